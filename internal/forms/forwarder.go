package forms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/geo"
	"github.com/JakeFAU/kblog/internal/metrics"
)

// Result is returned to the submitter once validation passed. Write failures
// are reported as diagnostics and never flip Success.
type Result struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	DBError        string         `json:"dbError,omitempty"`
	SheetsResponse map[string]any `json:"sheetsResponse"`
	SheetsError    string         `json:"sheetsError,omitempty"`
}

// NewsletterMirror keeps a local copy of newsletter subscribers.
type NewsletterMirror interface {
	SaveSubscription(sub content.Subscription) (content.Newsletter, error)
}

// Forwarder validates submissions and fans them out to the configured sinks.
type Forwarder struct {
	store   Store
	sheets  Sheets
	locator Locator
	mirror  NewsletterMirror
	ids     IDGenerator
	clock   Clock
	logger  *zap.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithStore enables database writes.
func WithStore(s Store) Option { return func(f *Forwarder) { f.store = s } }

// WithSheets enables spreadsheet forwarding.
func WithSheets(s Sheets) Option { return func(f *Forwarder) { f.sheets = s } }

// WithLocator enables IP geolocation on database rows.
func WithLocator(l Locator) Option { return func(f *Forwarder) { f.locator = l } }

// WithNewsletterMirror records newsletter subscriptions locally as well.
func WithNewsletterMirror(m NewsletterMirror, ids IDGenerator) Option {
	return func(f *Forwarder) {
		f.mirror = m
		f.ids = ids
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option { return func(f *Forwarder) { f.clock = c } }

// NewForwarder builds a Forwarder. With no options it only validates.
func NewForwarder(logger *zap.Logger, opts ...Option) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Forwarder{clock: systemClock{}, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Submit validates sub and performs the database and spreadsheet writes
// concurrently. The only error returned is a *ValidationError.
func (f *Forwarder) Submit(ctx context.Context, kind Kind, sub Submission, meta RequestMeta) (Result, error) {
	sub = sub.normalized()
	if err := Validate(kind, sub); err != nil {
		metrics.ObserveSubmission(string(kind), "invalid")
		return Result{}, err
	}

	now := f.clock.Now()
	sid := sessionID(kind.sessionPrefix(), sub.SessionID, now)
	rec := f.record(kind, sub, meta, sid)
	payload := sheetsPayload(kind, sub, rec, now)

	res := Result{Success: true, Message: kind.successMessage()}
	var wg sync.WaitGroup
	if f.store != nil {
		wg.Go(func() {
			if err := f.writeDB(ctx, rec); err != nil {
				res.DBError = err.Error()
			}
		})
	}
	if f.sheets != nil {
		wg.Go(func() {
			resp, err := f.sheets.Submit(ctx, payload)
			if err != nil {
				f.logger.Warn("sheets forward failed",
					zap.String("kind", string(kind)),
					zap.String("session_id", sid),
					zap.Error(err),
				)
				metrics.ObserveSubmissionWrite(string(kind), "sheets", metrics.OutcomeFailure)
				res.SheetsError = err.Error()
				return
			}
			metrics.ObserveSubmissionWrite(string(kind), "sheets", metrics.OutcomeSuccess)
			res.SheetsResponse = resp
		})
	}
	if kind == KindNewsletter && f.mirror != nil {
		wg.Go(func() { f.mirrorSubscription(rec, now) })
	}
	wg.Wait()

	metrics.ObserveSubmission(string(kind), metrics.OutcomeSuccess)
	return res, nil
}

func (f *Forwarder) record(kind Kind, sub Submission, meta RequestMeta, sid string) Record {
	rec := Record{
		Kind:        kind,
		Email:       sub.Email,
		Name:        sub.Name,
		Message:     sub.Message,
		SessionID:   sid,
		PageURL:     sub.PageURL,
		Referrer:    sub.Referrer,
		DeviceInfo:  deviceInfo(sub.DeviceInfo, sub.SessionInfo),
		IPAddress:   strings.TrimSpace(meta.IP),
		UserAgent:   meta.UserAgent,
		ComponentID: sub.ComponentID,
		Status:      "submitted",
	}
	switch kind {
	case KindNewsletter:
		rec.Source = firstNonEmpty(sub.Source, sub.CampaignTag, "newsletter_signup")
		rec.Status = "active"
	case KindContact:
		rec.Organization = sub.Organization
		rec.Role = sub.Role
		rec.Subject = sub.Subject
	case KindProjectInquiry:
		rec.Organization = sub.Organization
		rec.Role = sub.Role
		rec.EngagementPreference = sub.EngagementPreference
		rec.Timeline = sub.Timeline
	}
	return rec
}

func (f *Forwarder) writeDB(ctx context.Context, rec Record) error {
	rec.Geolocation = f.locate(ctx, rec.IPAddress)
	if err := f.store.InsertSubmission(ctx, rec); err != nil {
		f.logger.Warn("submission insert failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("session_id", rec.SessionID),
			zap.Error(err),
		)
		metrics.ObserveSubmissionWrite(string(rec.Kind), "db", metrics.OutcomeFailure)
		return err
	}
	metrics.ObserveSubmissionWrite(string(rec.Kind), "db", metrics.OutcomeSuccess)
	return nil
}

func (f *Forwarder) locate(ctx context.Context, ip string) *geo.Location {
	if f.locator == nil || ip == "" {
		return nil
	}
	loc, err := f.locator.Lookup(ctx, ip)
	if err != nil {
		level := zap.DebugLevel
		if !errors.Is(err, geo.ErrNoLocation) {
			level = zap.WarnLevel
		}
		f.logger.Log(level, "geolocation lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	return loc
}

func (f *Forwarder) mirrorSubscription(rec Record, now time.Time) {
	id := rec.SessionID
	if f.ids != nil {
		if generated, err := f.ids.NewID(); err == nil {
			id = generated
		}
	}
	_, err := f.mirror.SaveSubscription(content.Subscription{
		ID:               id,
		Email:            rec.Email,
		Name:             rec.Name,
		SessionID:        rec.SessionID,
		SubscriptionDate: now,
		Source:           rec.Source,
		PageURL:          rec.PageURL,
		Referrer:         rec.Referrer,
		Status:           "active",
		Preferences:      content.DefaultPreferences(),
	})
	if err != nil {
		f.logger.Warn("newsletter mirror write failed", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}

func sheetsPayload(kind Kind, sub Submission, rec Record, now time.Time) map[string]any {
	ts := sub.Timestamp
	if ts == "" {
		ts = now.UTC().Format(time.RFC3339Nano)
	}
	p := map[string]any{
		"dataType":   string(kind),
		"timestamp":  ts,
		"sessionId":  rec.SessionID,
		"pageUrl":    rec.PageURL,
		"name":       rec.Name,
		"email":      rec.Email,
		"referrer":   rec.Referrer,
		"deviceInfo": rec.DeviceInfo,
		"ipAddress":  rec.IPAddress,
		"userAgent":  rec.UserAgent,
		"status":     "submitted",
	}
	switch kind {
	case KindNewsletter:
		p["componentId"] = rec.ComponentID
		p["source"] = rec.Source
	case KindContact:
		p["organization"] = rec.Organization
		p["role"] = rec.Role
		p["subject"] = rec.Subject
		p["message"] = rec.Message
	case KindProjectInquiry:
		p["organization"] = rec.Organization
		p["role"] = rec.Role
		p["engagementPreference"] = rec.EngagementPreference
		p["timeline"] = rec.Timeline
		p["message"] = rec.Message
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
