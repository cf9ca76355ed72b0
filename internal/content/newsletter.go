package content

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Newsletter is the data/newsletter.json document.
type Newsletter struct {
	Subscriptions []Subscription  `json:"subscriptions"`
	Stats         NewsletterStats `json:"stats"`
}

// Subscription is one subscriber, keyed by lowercased email.
type Subscription struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	Name             string          `json:"name,omitempty"`
	SessionID        string          `json:"sessionId,omitempty"`
	SubscriptionDate time.Time       `json:"subscriptionDate"`
	Source           string          `json:"source"`
	PageURL          string          `json:"pageUrl,omitempty"`
	Referrer         string          `json:"referrer,omitempty"`
	Status           string          `json:"status"`
	Preferences      SubscriberPrefs `json:"preferences"`
}

// SubscriberPrefs are the delivery preferences recorded with a subscription.
type SubscriberPrefs struct {
	Frequency  string   `json:"frequency"`
	Categories []string `json:"categories"`
}

// NewsletterStats summarizes the subscriber list.
type NewsletterStats struct {
	TotalSubscribers  int        `json:"totalSubscribers"`
	ActiveSubscribers int        `json:"activeSubscribers"`
	LastSubscription  *time.Time `json:"lastSubscription"`
}

// DefaultPreferences are applied to new subscriptions.
func DefaultPreferences() SubscriberPrefs {
	return SubscriberPrefs{
		Frequency:  "weekly",
		Categories: []string{"data-architecture", "information-asymmetry"},
	}
}

// ReadNewsletter loads data/newsletter.json. A missing file is an empty list.
func (s *Store) ReadNewsletter() (Newsletter, error) {
	n := Newsletter{Subscriptions: []Subscription{}}
	if err := readJSON(filepath.Join(s.dataDir, NewsletterFile), &n); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return n, nil
		}
		return n, fmt.Errorf("read newsletter: %w", err)
	}
	if n.Subscriptions == nil {
		n.Subscriptions = []Subscription{}
	}
	return n, nil
}

// SaveSubscription upserts sub by email and recomputes the list stats.
func (s *Store) SaveSubscription(sub Subscription) (Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ReadNewsletter()
	if err != nil {
		return n, err
	}
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	replaced := false
	for i := range n.Subscriptions {
		if n.Subscriptions[i].Email == sub.Email {
			n.Subscriptions[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		n.Subscriptions = append(n.Subscriptions, sub)
	}
	active := 0
	for _, existing := range n.Subscriptions {
		if existing.Status == "active" {
			active++
		}
	}
	last := sub.SubscriptionDate
	n.Stats = NewsletterStats{
		TotalSubscribers:  len(n.Subscriptions),
		ActiveSubscribers: active,
		LastSubscription:  &last,
	}
	if err := writeJSON(filepath.Join(s.dataDir, NewsletterFile), n); err != nil {
		return n, fmt.Errorf("write newsletter: %w", err)
	}
	return n, nil
}
