package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Patch("/api/articles/{slug}/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Patch("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPatch, "202"))
	gone := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPatch, "410"))

	for _, path := range []string{"/api/articles/a/stats", "/api/articles/b/stats", "/gone"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, path, nil))
		require.NotZero(t, rec.Code)
	}

	assert.InDelta(t, accepted+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPatch, "202")), 0)
	assert.InDelta(t, gone+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPatch, "410")), 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "200"))
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/unrouted", nil))

	assert.Equal(t, "ok", rec.Body.String())
	assert.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "200")), 0)
}
