// Package forms validates newsletter, contact and project-inquiry
// submissions and forwards them, best-effort, to the submission database
// and the spreadsheet webhook. Transports decode a Submission and call
// Forwarder.Submit; they never talk to the stores directly.
package forms

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/kblog/internal/geo"
)

// Kind identifies a form.
type Kind string

// Supported form kinds. The values double as the spreadsheet dataType.
const (
	KindNewsletter     Kind = "newsletter"
	KindContact        Kind = "contact"
	KindProjectInquiry Kind = "projectInquiry"
)

// Valid reports whether k is a known form kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNewsletter, KindContact, KindProjectInquiry:
		return true
	default:
		return false
	}
}

func (k Kind) sessionPrefix() string {
	if k == KindProjectInquiry {
		return "project"
	}
	return string(k)
}

func (k Kind) successMessage() string {
	switch k {
	case KindNewsletter:
		return "Successfully subscribed to newsletter."
	case KindContact:
		return "Message received. Thank you for contacting us!"
	default:
		return "Project inquiry received."
	}
}

// Submission is the decoded body of any of the three forms. Fields that a
// form does not use are ignored.
type Submission struct {
	Email                string          `json:"email"`
	Name                 string          `json:"name"`
	Message              string          `json:"message"`
	Organization         string          `json:"organization"`
	Role                 string          `json:"role"`
	Subject              string          `json:"subject"`
	EngagementPreference string          `json:"engagementPreference"`
	Timeline             string          `json:"timeline"`
	SessionID            string          `json:"sessionId"`
	Source               string          `json:"source"`
	CampaignTag          string          `json:"campaignTag"`
	ComponentID          string          `json:"componentId"`
	PageURL              string          `json:"pageUrl"`
	Referrer             string          `json:"referrer"`
	DeviceInfo           json.RawMessage `json:"deviceInfo,omitempty"`
	SessionInfo          json.RawMessage `json:"sessionInfo,omitempty"`
	Timestamp            string          `json:"timestamp"`
}

// RequestMeta carries transport-derived client details.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// ValidationError is a client error; nothing was written.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func (s Submission) normalized() Submission {
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.Name = strings.TrimSpace(s.Name)
	s.Message = strings.TrimSpace(s.Message)
	return s
}

// Validate checks the required fields for kind. s should already be normalized.
func Validate(kind Kind, s Submission) error {
	switch kind {
	case KindNewsletter:
		if s.Email == "" {
			return &ValidationError{Fields: []string{"email"}, Message: "Email address is required"}
		}
		if !ValidEmail(s.Email) {
			return &ValidationError{Fields: []string{"email"}, Message: "Please enter a valid email address"}
		}
	case KindContact:
		if missing := missingFields(s, "name", "email", "message"); len(missing) > 0 {
			return &ValidationError{Fields: missing, Message: "Name, email, and message are required."}
		}
		if !ValidEmail(s.Email) {
			return &ValidationError{Fields: []string{"email"}, Message: "Please provide a valid email address."}
		}
	case KindProjectInquiry:
		if missing := missingFields(s, "name", "email", "message"); len(missing) > 0 {
			return &ValidationError{Fields: missing, Message: "Name, email, and project details are required."}
		}
		if !ValidEmail(s.Email) {
			return &ValidationError{Fields: []string{"email"}, Message: "Please provide a valid work email address."}
		}
	default:
		return &ValidationError{Fields: []string{"kind"}, Message: "Unsupported form type: " + string(kind)}
	}
	return nil
}

func missingFields(s Submission, names ...string) []string {
	var missing []string
	for _, n := range names {
		var v string
		switch n {
		case "name":
			v = s.Name
		case "email":
			v = s.Email
		case "message":
			v = s.Message
		}
		if v == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

// Record is the row written to the submission database.
type Record struct {
	Kind                 Kind
	Email                string
	Name                 string
	Organization         string
	Role                 string
	Subject              string
	Message              string
	EngagementPreference string
	Timeline             string
	Source               string
	ComponentID          string
	SessionID            string
	PageURL              string
	Referrer             string
	DeviceInfo           map[string]json.RawMessage
	IPAddress            string
	UserAgent            string
	Status               string
	Geolocation          *geo.Location
}

// EventRecord is the row written to the analytics events table.
type EventRecord struct {
	AppName        string
	Timestamp      time.Time
	SessionID      string
	EventType      string
	PageCategory   string
	PageURL        string
	ArticleID      string
	ArticleSlug    string
	ArticleContext string
	DepthPercent   *int
	Referrer       string
	DeviceInfo     map[string]json.RawMessage
	IPAddress      string
	UserAgent      string
	Geolocation    *geo.Location
}

// Store persists submissions and analytics events.
type Store interface {
	InsertSubmission(ctx context.Context, rec Record) error
	InsertEvent(ctx context.Context, ev EventRecord) error
}

// Sheets forwards a payload to the spreadsheet webhook.
type Sheets interface {
	Submit(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Locator resolves an IP address. A nil location with a nil error means
// the address was not eligible for lookup.
type Locator interface {
	Lookup(ctx context.Context, ip string) (*geo.Location, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues subscription ids.
type IDGenerator interface {
	NewID() (string, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func sessionID(prefix, provided string, now time.Time) string {
	if provided = strings.TrimSpace(provided); provided != "" {
		return provided
	}
	return prefix + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

func deviceInfo(device, session json.RawMessage) map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"deviceData":  rawOrNull(device),
		"sessionInfo": rawOrNull(session),
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
