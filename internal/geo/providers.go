package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default service endpoints.
const (
	DefaultIPAPIURL   = "http://ip-api.com"
	DefaultIPAPICoURL = "https://ipapi.co"
	DefaultTimeout    = 5 * time.Second

	ipAPIFields = "status,message,country,regionName,city,zip,lat,lon,timezone,isp,as,query"
)

func newClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IPAPI queries ip-api.com.
type IPAPI struct {
	baseURL string
	client  *http.Client
}

// NewIPAPI creates the ip-api.com provider. An empty baseURL uses the public service.
func NewIPAPI(baseURL string, client *http.Client, timeout time.Duration) *IPAPI {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	return &IPAPI{baseURL: strings.TrimRight(baseURL, "/"), client: newClient(client, timeout)}
}

// Name implements Provider.
func (*IPAPI) Name() string { return "ip-api.com" }

// Lookup implements Provider.
func (p *IPAPI) Lookup(ctx context.Context, ip string) (Location, error) {
	var body struct {
		Status     string  `json:"status"`
		Message    string  `json:"message"`
		Country    string  `json:"country"`
		RegionName string  `json:"regionName"`
		City       string  `json:"city"`
		Zip        string  `json:"zip"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
		Timezone   string  `json:"timezone"`
		ISP        string  `json:"isp"`
		AS         string  `json:"as"`
	}
	endpoint := p.baseURL + "/json/" + url.PathEscape(ip) + "?fields=" + ipAPIFields
	if err := getJSON(ctx, p.client, endpoint, &body); err != nil {
		return Location{}, err
	}
	if body.Status == "fail" {
		return Location{}, fmt.Errorf("lookup failed: %s", body.Message)
	}
	return Location{
		Country:    body.Country,
		Region:     body.RegionName,
		City:       body.City,
		PostalCode: body.Zip,
		Latitude:   body.Lat,
		Longitude:  body.Lon,
		Timezone:   body.Timezone,
		ISP:        body.ISP,
		ASN:        body.AS,
		Source:     p.Name(),
	}, nil
}

// IPAPICo queries ipapi.co.
type IPAPICo struct {
	baseURL string
	client  *http.Client
}

// NewIPAPICo creates the ipapi.co provider. An empty baseURL uses the public service.
func NewIPAPICo(baseURL string, client *http.Client, timeout time.Duration) *IPAPICo {
	if baseURL == "" {
		baseURL = DefaultIPAPICoURL
	}
	return &IPAPICo{baseURL: strings.TrimRight(baseURL, "/"), client: newClient(client, timeout)}
}

// Name implements Provider.
func (*IPAPICo) Name() string { return "ipapi.co" }

// Lookup implements Provider.
func (p *IPAPICo) Lookup(ctx context.Context, ip string) (Location, error) {
	var body struct {
		Error       bool            `json:"error"`
		Reason      string          `json:"reason"`
		CountryName string          `json:"country_name"`
		Region      string          `json:"region"`
		City        string          `json:"city"`
		Postal      string          `json:"postal"`
		Latitude    float64         `json:"latitude"`
		Longitude   float64         `json:"longitude"`
		Timezone    string          `json:"timezone"`
		Org         string          `json:"org"`
		ASN         json.RawMessage `json:"asn"`
	}
	endpoint := p.baseURL + "/" + url.PathEscape(ip) + "/json/"
	if err := getJSON(ctx, p.client, endpoint, &body); err != nil {
		return Location{}, err
	}
	if body.Error {
		return Location{}, fmt.Errorf("lookup failed: %s", body.Reason)
	}
	return Location{
		Country:    body.CountryName,
		Region:     body.Region,
		City:       body.City,
		PostalCode: body.Postal,
		Latitude:   body.Latitude,
		Longitude:  body.Longitude,
		Timezone:   body.Timezone,
		ISP:        body.Org,
		ASN:        rawString(body.ASN),
		Source:     p.Name(),
	}, nil
}

// rawString accepts either a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}
