// Package geo resolves client IP addresses to coarse locations using public
// lookup services, with an injected per-IP cache.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/metrics"
)

// ErrNoLocation is returned when every provider failed for an address.
var ErrNoLocation = errors.New("no geolocation available")

// Location is the normalized result of a lookup.
type Location struct {
	Country    string  `json:"country,omitempty"`
	Region     string  `json:"region,omitempty"`
	City       string  `json:"city,omitempty"`
	PostalCode string  `json:"postalCode,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Timezone   string  `json:"timezone,omitempty"`
	ISP        string  `json:"isp,omitempty"`
	ASN        string  `json:"asn,omitempty"`
	Source     string  `json:"source"`
}

// Provider looks up one address against a single service.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Cache stores successful lookups per IP until they expire.
type Cache interface {
	Get(ctx context.Context, ip string) (Location, bool)
	Set(ctx context.Context, ip string, loc Location)
}

// Locator tries providers in order and caches the first success.
type Locator struct {
	providers []Provider
	cache     Cache
	logger    *zap.Logger
}

// NewLocator builds a Locator. A nil cache disables caching.
func NewLocator(cache Cache, logger *zap.Logger, providers ...Provider) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{providers: providers, cache: cache, logger: logger}
}

// Eligible reports whether ip is a public unicast address worth looking up.
// Private, loopback, link-local, multicast and unspecified addresses are not.
func Eligible(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified())
}

// Lookup resolves ip. Ineligible addresses return (nil, nil) without any
// network call. When every provider fails the error wraps ErrNoLocation.
func (l *Locator) Lookup(ctx context.Context, ip string) (*Location, error) {
	ip = strings.TrimSpace(ip)
	if !Eligible(ip) {
		return nil, nil
	}
	if l.cache != nil {
		if loc, ok := l.cache.Get(ctx, ip); ok {
			metrics.ObserveGeoLookup("cache", metrics.OutcomeSuccess)
			return &loc, nil
		}
	}
	var errs []error
	for _, p := range l.providers {
		loc, err := p.Lookup(ctx, ip)
		if err != nil {
			l.logger.Debug("geolocation provider failed",
				zap.String("provider", p.Name()),
				zap.String("ip", ip),
				zap.Error(err),
			)
			metrics.ObserveGeoLookup(p.Name(), metrics.OutcomeFailure)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		metrics.ObserveGeoLookup(p.Name(), metrics.OutcomeSuccess)
		if l.cache != nil {
			l.cache.Set(ctx, ip, loc)
		}
		return &loc, nil
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoLocation, ip, errors.Join(errs...))
}
