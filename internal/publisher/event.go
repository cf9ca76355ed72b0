// Package publisher defines the notification events emitted when content changes.
package publisher

import (
	"context"
	"time"
)

// Event types.
const (
	ArticlePublished = "article.published"
)

// Event is one outbound notification. Key identifies the subject (an article slug).
type Event struct {
	Type       string            `json:"type"`
	Key        string            `json:"key"`
	OccurredAt time.Time         `json:"occurredAt"`
	Payload    any               `json:"payload"`
	Attributes map[string]string `json:"-"`
}

// Publisher delivers events and returns a backend message id.
type Publisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// ArticlePayload is the body of an ArticlePublished event.
type ArticlePayload struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Excerpt  string   `json:"excerpt"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Author   string   `json:"author"`
	URL      string   `json:"url"`
}
