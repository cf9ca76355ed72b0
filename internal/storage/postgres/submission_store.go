// Package postgres provides Postgres-backed persistence for form
// submissions and analytics events.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/kblog/internal/forms"
)

// Table names created by the embedded migrations.
const (
	NewsletterTable = "kblog_newsletter_signups"
	ContactTable    = "kblog_contact_messages"
	InquiryTable    = "kblog_project_inquiries"
	EventsTable     = "app_events"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	EventsTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SubmissionStore writes form submissions and analytics events into Postgres.
type SubmissionStore struct {
	pool        execCloser
	eventsTable string
}

// NewSubmissionStore creates a pool-backed store using the provided config.
func NewSubmissionStore(ctx context.Context, cfg Config) (*SubmissionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	events, err := eventsTableName(cfg.EventsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SubmissionStore{pool: pool, eventsTable: events}, nil
}

// NewSubmissionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSubmissionStoreWithPool(pool execCloser, eventsTable string) (*SubmissionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	events, err := eventsTableName(eventsTable)
	if err != nil {
		return nil, err
	}
	return &SubmissionStore{pool: pool, eventsTable: events}, nil
}

func eventsTableName(name string) (string, error) {
	if name == "" {
		name = EventsTable
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// Close releases the underlying pool resources.
func (s *SubmissionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertSubmission writes rec into the table for its kind.
func (s *SubmissionStore) InsertSubmission(ctx context.Context, rec forms.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("submission store is not configured")
	}
	device, err := jsonOrNil(rec.DeviceInfo)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}
	location, err := jsonOrNil(rec.Geolocation)
	if err != nil {
		return fmt.Errorf("marshal geolocation: %w", err)
	}

	var (
		query string
		args  []any
	)
	switch rec.Kind {
	case forms.KindNewsletter:
		query = `
INSERT INTO ` + NewsletterTable + ` (
	email, name, session_id, source, page_url, component_id, referrer,
	device_info, ip_address, user_agent, status, ip_geolocation
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
		args = []any{
			rec.Email,
			nullable(rec.Name),
			nullable(rec.SessionID),
			orDefault(rec.Source, "newsletter_signup"),
			nullable(rec.PageURL),
			nullable(rec.ComponentID),
			nullable(rec.Referrer),
			device,
			nullable(rec.IPAddress),
			nullable(rec.UserAgent),
			orDefault(rec.Status, "active"),
			location,
		}
	case forms.KindContact:
		query = `
INSERT INTO ` + ContactTable + ` (
	name, email, organization, role, subject, message, session_id,
	page_url, referrer, device_info, ip_address, user_agent, status, ip_geolocation
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
		args = []any{
			rec.Name,
			rec.Email,
			nullable(rec.Organization),
			nullable(rec.Role),
			nullable(rec.Subject),
			rec.Message,
			nullable(rec.SessionID),
			nullable(rec.PageURL),
			nullable(rec.Referrer),
			device,
			nullable(rec.IPAddress),
			nullable(rec.UserAgent),
			orDefault(rec.Status, "submitted"),
			location,
		}
	case forms.KindProjectInquiry:
		query = `
INSERT INTO ` + InquiryTable + ` (
	name, email, organization, role, engagement_preference, timeline, message,
	session_id, page_url, referrer, device_info, ip_address, user_agent, status, ip_geolocation
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
		args = []any{
			rec.Name,
			rec.Email,
			nullable(rec.Organization),
			nullable(rec.Role),
			nullable(rec.EngagementPreference),
			nullable(rec.Timeline),
			rec.Message,
			nullable(rec.SessionID),
			nullable(rec.PageURL),
			nullable(rec.Referrer),
			device,
			nullable(rec.IPAddress),
			nullable(rec.UserAgent),
			orDefault(rec.Status, "submitted"),
			location,
		}
	default:
		return fmt.Errorf("unsupported submission kind %q", rec.Kind)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s submission: %w", rec.Kind, err)
	}
	return nil
}

// InsertEvent writes an analytics event row.
func (s *SubmissionStore) InsertEvent(ctx context.Context, ev forms.EventRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("submission store is not configured")
	}
	if ev.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	device, err := jsonOrNil(ev.DeviceInfo)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}
	location, err := jsonOrNil(ev.Geolocation)
	if err != nil {
		return fmt.Errorf("marshal geolocation: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var depth any
	if ev.DepthPercent != nil {
		depth = *ev.DepthPercent
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	app_name, timestamp, session_id, event_type, page_category, page_url,
	article_id, article_slug, article_context, depth_percent, referrer,
	device_info, ip_address, ip_geolocation, user_agent
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.eventsTable)

	args := []any{
		ev.AppName,
		ts,
		nullable(ev.SessionID),
		ev.EventType,
		nullable(ev.PageCategory),
		nullable(ev.PageURL),
		nullable(ev.ArticleID),
		nullable(ev.ArticleSlug),
		nullable(ev.ArticleContext),
		depth,
		nullable(ev.Referrer),
		device,
		nullable(ev.IPAddress),
		location,
		nullable(ev.UserAgent),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// jsonOrNil marshals v, mapping nil pointers and empty maps to SQL NULL.
func jsonOrNil(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}
