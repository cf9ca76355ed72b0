package forms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/geo"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeStore struct {
	mu        sync.Mutex
	records   []Record
	events    []EventRecord
	insertErr error
}

func (s *fakeStore) InsertSubmission(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) InsertEvent(_ context.Context, ev EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.events = append(s.events, ev)
	return nil
}

type fakeSheets struct {
	mu       sync.Mutex
	payloads []map[string]any
	err      error
}

func (s *fakeSheets) Submit(_ context.Context, payload map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"success": true}, nil
}

type fakeLocator struct {
	loc *geo.Location
	err error
}

func (l fakeLocator) Lookup(context.Context, string) (*geo.Location, error) { return l.loc, l.err }

type fakeMirror struct {
	mu   sync.Mutex
	subs []content.Subscription
}

func (m *fakeMirror) SaveSubscription(sub content.Subscription) (content.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return content.Newsletter{Subscriptions: m.subs}, nil
}

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "sub-1", nil }

var testNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestForwarder(store *fakeStore, sheets *fakeSheets, opts ...Option) *Forwarder {
	all := []Option{WithStore(store), WithSheets(sheets), WithClock(fakeClock{now: testNow})}
	return NewForwarder(nil, append(all, opts...)...)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		sub     Submission
		wantErr string
	}{
		{"newsletter ok", KindNewsletter, Submission{Email: "a@b.co"}, ""},
		{"newsletter missing", KindNewsletter, Submission{}, "Email address is required"},
		{"newsletter bad", KindNewsletter, Submission{Email: "not-an-email"}, "Please enter a valid email address"},
		{"contact missing message", KindContact, Submission{Name: "A", Email: "a@b.co"}, "Name, email, and message are required."},
		{"contact bad email", KindContact, Submission{Name: "A", Email: "a@b", Message: "hi"}, "Please provide a valid email address."},
		{"inquiry ok", KindProjectInquiry, Submission{Name: "A", Email: "a@b.co", Message: "build"}, ""},
		{"inquiry bad email", KindProjectInquiry, Submission{Name: "A", Email: "a b@c.d", Message: "x"}, "Please provide a valid work email address."},
		{"unknown kind", Kind("survey"), Submission{Email: "a@b.co"}, "Unsupported form type: survey"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.kind, tt.sub)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantErr, vErr.Message)
		})
	}
}

func TestSubmitInvalidEmailWritesNothing(t *testing.T) {
	t.Parallel()

	store, sheets, mirror := &fakeStore{}, &fakeSheets{}, &fakeMirror{}
	f := newTestForwarder(store, sheets, WithNewsletterMirror(mirror, fakeIDGen{}))

	_, err := f.Submit(context.Background(), KindNewsletter, Submission{Email: "not-an-email"}, RequestMeta{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, store.records)
	assert.Empty(t, sheets.payloads)
	assert.Empty(t, mirror.subs)
}

func TestSubmitDBFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	store := &fakeStore{insertErr: errors.New("connection refused")}
	sheets := &fakeSheets{}
	f := newTestForwarder(store, sheets)

	res, err := f.Submit(context.Background(), KindNewsletter, Submission{Email: " Reader@Example.com "}, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "connection refused", res.DBError)
	assert.Equal(t, map[string]any{"success": true}, res.SheetsResponse)
	require.Len(t, sheets.payloads, 1)
	assert.Equal(t, "reader@example.com", sheets.payloads[0]["email"])
}

func TestSubmitSheetsFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sheets := &fakeSheets{err: errors.New("status 500")}
	f := newTestForwarder(store, sheets)

	res, err := f.Submit(context.Background(), KindContact,
		Submission{Name: "Ada", Email: "ada@example.com", Message: "hello"}, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.DBError)
	assert.Equal(t, "status 500", res.SheetsError)
	assert.Nil(t, res.SheetsResponse)
	require.Len(t, store.records, 1)
}

func TestSubmitBuildsRecordAndPayload(t *testing.T) {
	t.Parallel()

	store, sheets := &fakeStore{}, &fakeSheets{}
	loc := &geo.Location{Country: "US", Source: "ip-api"}
	f := newTestForwarder(store, sheets, WithLocator(fakeLocator{loc: loc}))

	sub := Submission{
		Name:                 "Grace",
		Email:                "grace@example.com",
		Message:              "need a data platform",
		Organization:         "Navy",
		EngagementPreference: "advisory",
		Timeline:             "Q3",
		DeviceInfo:           json.RawMessage(`{"os":"linux"}`),
	}
	res, err := f.Submit(context.Background(), KindProjectInquiry, sub, RequestMeta{IP: "8.8.8.8", UserAgent: "ua"})
	require.NoError(t, err)
	assert.Equal(t, "Project inquiry received.", res.Message)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "project_1741064767000", rec.SessionID)
	assert.Equal(t, "advisory", rec.EngagementPreference)
	assert.Equal(t, loc, rec.Geolocation)
	assert.JSONEq(t, `{"os":"linux"}`, string(rec.DeviceInfo["deviceData"]))
	assert.JSONEq(t, `null`, string(rec.DeviceInfo["sessionInfo"]))

	require.Len(t, sheets.payloads, 1)
	p := sheets.payloads[0]
	assert.Equal(t, "projectInquiry", p["dataType"])
	assert.Equal(t, "2025-03-04T05:06:07Z", p["timestamp"])
	assert.Equal(t, "Q3", p["timeline"])
	assert.Equal(t, "8.8.8.8", p["ipAddress"])
}

func TestSubmitKeepsProvidedSessionID(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	f := newTestForwarder(store, &fakeSheets{})
	_, err := f.Submit(context.Background(), KindNewsletter,
		Submission{Email: "a@b.co", SessionID: "sess-9", CampaignTag: "spring"}, RequestMeta{})
	require.NoError(t, err)
	require.Len(t, store.records, 1)
	assert.Equal(t, "sess-9", store.records[0].SessionID)
	assert.Equal(t, "spring", store.records[0].Source)
	assert.Equal(t, "active", store.records[0].Status)
}

func TestSubmitGeolocationFailureIsIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	f := newTestForwarder(store, &fakeSheets{}, WithLocator(fakeLocator{err: geo.ErrNoLocation}))
	res, err := f.Submit(context.Background(), KindNewsletter, Submission{Email: "a@b.co"}, RequestMeta{IP: "1.1.1.1"})
	require.NoError(t, err)
	assert.Empty(t, res.DBError)
	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].Geolocation)
}

func TestSubmitMirrorsNewsletter(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{}
	f := NewForwarder(nil, WithNewsletterMirror(mirror, fakeIDGen{}), WithClock(fakeClock{now: testNow}))
	res, err := f.Submit(context.Background(), KindNewsletter, Submission{Email: "a@b.co", Name: "A"}, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, mirror.subs, 1)
	assert.Equal(t, "sub-1", mirror.subs[0].ID)
	assert.Equal(t, "newsletter_signup", mirror.subs[0].Source)
	assert.Equal(t, testNow, mirror.subs[0].SubscriptionDate)

	_, err = f.Submit(context.Background(), KindContact, Submission{Name: "A", Email: "a@b.co", Message: "m"}, RequestMeta{})
	require.NoError(t, err)
	assert.Len(t, mirror.subs, 1)
}
