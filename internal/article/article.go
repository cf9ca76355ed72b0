// Package article defines the persisted article records and the rules that
// derive one record from another.
package article

import "time"

// Status values stored in metadata.json.
const (
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Metadata is the authoritative per-article record kept in metadata.json.
type Metadata struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	Author    Author    `json:"author"`
	Published time.Time `json:"published"`
	Updated   time.Time `json:"updated"`
	Status    string    `json:"status"`
	ReadTime  int       `json:"readTime"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Image     Image     `json:"image"`
	Stats     Stats     `json:"stats"`
	SEO       SEO       `json:"seo"`
	Settings  Settings  `json:"settings"`
	Content   string    `json:"content"`
}

// Image references the featured image by filename in the shared images directory.
type Image struct {
	Featured *string `json:"featured"`
	Alt      string  `json:"alt"`
}

// FeaturedName returns the featured filename or "" when there is none.
func (i Image) FeaturedName() string {
	if i.Featured == nil {
		return ""
	}
	return *i.Featured
}

// Stats holds the mutable engagement counters.
type Stats struct {
	Views    int `json:"views"`
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
}

// StatTypes lists the counters that may be incremented.
var StatTypes = []string{"views", "likes", "comments", "shares"}

// Increment adds delta to the named counter. It reports false for an unknown name.
func (s *Stats) Increment(name string, delta int) bool {
	switch name {
	case "views":
		s.Views += delta
	case "likes":
		s.Likes += delta
	case "comments":
		s.Comments += delta
	case "shares":
		s.Shares += delta
	default:
		return false
	}
	return true
}

// SEO carries search metadata rendered into the article head.
type SEO struct {
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	Keywords        []string `json:"keywords"`
	Canonical       string   `json:"canonical"`
}

// Settings are editor toggles captured at publish time.
type Settings struct {
	Featured          bool `json:"featured"`
	AllowComments     bool `json:"allowComments"`
	NotifySubscribers bool `json:"notifySubscribers"`
	Archived          bool `json:"archived"`
}

// Archive marks the record archived. Articles are never deleted.
func (m *Metadata) Archive(now time.Time) {
	m.Status = StatusArchived
	m.Settings.Archived = true
	m.Updated = now
}

// NewSEO builds the search metadata for an article.
func NewSEO(title, excerpt string, tags []string, canonical string) SEO {
	desc := excerpt
	if desc == "" {
		desc = "Professional insights on " + title + " and data architecture."
	}
	keywords := make([]string, len(tags))
	copy(keywords, tags)
	return SEO{
		MetaTitle:       title + " - Kerv Talks-Data Blog",
		MetaDescription: desc,
		Keywords:        keywords,
		Canonical:       canonical,
	}
}
