package forms

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/metrics"
)

// Analytics event types.
const (
	EventPageView          = "page_view"
	EventArticleView       = "article_view"
	EventArticleImpression = "article_impression"
	EventArticleOpen       = "article_open"
	EventArticleRead       = "article_read"
)

var allowedEvents = map[string]bool{
	EventPageView:          true,
	EventArticleView:       true,
	EventArticleImpression: true,
	EventArticleOpen:       true,
	EventArticleRead:       true,
}

// Event is the decoded analytics beacon body.
type Event struct {
	EventType    string          `json:"eventType"`
	SessionID    string          `json:"sessionId"`
	Timestamp    string          `json:"timestamp"`
	PageURL      string          `json:"pageUrl"`
	PageCategory string          `json:"pageCategory"`
	Referrer     string          `json:"referrer"`
	ArticleID    string          `json:"articleId"`
	ArticleSlug  string          `json:"articleSlug"`
	ListContext  string          `json:"listContext"`
	DepthPercent json.RawMessage `json:"depthPercent,omitempty"`
	DeviceInfo   json.RawMessage `json:"deviceInfo,omitempty"`
	SessionInfo  json.RawMessage `json:"sessionInfo,omitempty"`
}

// EventResult mirrors Result for analytics beacons, which only go to the database.
type EventResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	DBError string `json:"dbError,omitempty"`
}

// Events validates and stores analytics events.
type Events struct {
	appName string
	store   Store
	locator Locator
	clock   Clock
	logger  *zap.Logger
}

// NewEvents builds an event recorder. store and locator may be nil.
func NewEvents(appName string, store Store, locator Locator, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{appName: appName, store: store, locator: locator, clock: systemClock{}, logger: logger}
}

// Record validates ev and writes it. The only error returned is a *ValidationError.
func (e *Events) Record(ctx context.Context, ev Event, meta RequestMeta) (EventResult, error) {
	if err := validateEvent(&ev); err != nil {
		metrics.ObserveSubmission("event", "invalid")
		return EventResult{}, err
	}
	now := e.clock.Now()
	rec := EventRecord{
		AppName:      e.appName,
		Timestamp:    parseTimestamp(ev.Timestamp, now),
		SessionID:    sessionID("event", ev.SessionID, now),
		EventType:    ev.EventType,
		PageCategory: ev.PageCategory,
		PageURL:      ev.PageURL,
		Referrer:     ev.Referrer,
		DeviceInfo:   deviceInfo(ev.DeviceInfo, ev.SessionInfo),
		IPAddress:    strings.TrimSpace(meta.IP),
		UserAgent:    meta.UserAgent,
	}
	switch ev.EventType {
	case EventArticleView:
		rec.ArticleSlug = firstNonEmpty(ev.ArticleSlug, ev.ArticleID)
	case EventArticleImpression, EventArticleOpen, EventArticleRead:
		rec.ArticleID = firstNonEmpty(ev.ArticleID, ev.ArticleSlug)
		rec.ArticleContext = ev.ListContext
		if depth, ok := parseDepth(ev.DepthPercent); ok {
			rounded := int(math.Round(depth))
			rec.DepthPercent = &rounded
		}
	}

	res := EventResult{Success: true, Message: "Event recorded."}
	if e.store == nil {
		metrics.ObserveSubmission("event", metrics.OutcomeSuccess)
		return res, nil
	}
	if e.locator != nil && rec.IPAddress != "" {
		if loc, err := e.locator.Lookup(ctx, rec.IPAddress); err == nil {
			rec.Geolocation = loc
		} else {
			e.logger.Debug("geolocation lookup failed", zap.String("ip", rec.IPAddress), zap.Error(err))
		}
	}
	if err := e.store.InsertEvent(ctx, rec); err != nil {
		e.logger.Warn("analytics event insert failed",
			zap.String("event_type", rec.EventType),
			zap.String("session_id", rec.SessionID),
			zap.Error(err),
		)
		metrics.ObserveSubmissionWrite("event", "db", metrics.OutcomeFailure)
		res.DBError = err.Error()
	} else {
		metrics.ObserveSubmissionWrite("event", "db", metrics.OutcomeSuccess)
	}
	metrics.ObserveSubmission("event", metrics.OutcomeSuccess)
	return res, nil
}

func validateEvent(ev *Event) error {
	ev.EventType = strings.TrimSpace(ev.EventType)
	if ev.EventType == "" {
		return &ValidationError{Fields: []string{"eventType"}, Message: "eventType is required."}
	}
	if !allowedEvents[ev.EventType] {
		return &ValidationError{Fields: []string{"eventType"}, Message: "Unsupported eventType: " + ev.EventType}
	}
	switch ev.EventType {
	case EventArticleView:
		if firstNonEmpty(ev.ArticleSlug, ev.ArticleID) == "" {
			return &ValidationError{
				Fields:  []string{"articleSlug"},
				Message: "article_view events require articleSlug or articleId.",
			}
		}
	case EventArticleImpression, EventArticleOpen, EventArticleRead:
		if firstNonEmpty(ev.ArticleID, ev.ArticleSlug) == "" {
			return &ValidationError{
				Fields:  []string{"articleId"},
				Message: ev.EventType + " events require articleId or articleSlug.",
			}
		}
		depth, ok := parseDepth(ev.DepthPercent)
		if !ok && ev.EventType == EventArticleRead {
			return &ValidationError{
				Fields:  []string{"depthPercent"},
				Message: "article_read events require a numeric depthPercent.",
			}
		}
		if ok && (depth < 0 || depth > 100) {
			return &ValidationError{
				Fields:  []string{"depthPercent"},
				Message: "depthPercent must be between 0 and 100.",
			}
		}
	}
	return nil
}

// parseDepth accepts a JSON number or a numeric string.
func parseDepth(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
		return t.UTC()
	}
	return fallback.UTC()
}
