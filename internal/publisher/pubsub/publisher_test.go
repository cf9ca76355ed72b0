package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/kblog/internal/publisher"
)

func TestMessageCarriesAttributesAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := Message(ctx, publisher.Event{
		Type:       publisher.ArticlePublished,
		Key:        "my-great-idea",
		Payload:    publisher.ArticlePayload{ID: "my-great-idea", Title: "My Great Idea!!"},
		Attributes: map[string]string{"site": "kblog"},
	})
	require.NoError(t, err)

	assert.Equal(t, publisher.ArticlePublished, msg.Attributes["event_type"])
	assert.Equal(t, "my-great-idea", msg.Attributes["key"])
	assert.Equal(t, "kblog", msg.Attributes["site"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msg.Attributes["traceparent"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "article.published", body["type"])
	payload, ok := body["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "My Great Idea!!", payload["title"])
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), publisher.Event{Type: publisher.ArticlePublished})
	require.Error(t, err)
}
