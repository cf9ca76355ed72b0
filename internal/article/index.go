package article

import "time"

// Index is the aggregate listing stored in data/articles.json.
type Index struct {
	Articles []IndexEntry `json:"articles"`
}

// IndexEntry is the denormalized summary of one article.
type IndexEntry struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Excerpt   string      `json:"excerpt"`
	Author    AuthorBrief `json:"author"`
	Published string      `json:"published"`
	ReadTime  int         `json:"readTime"`
	Category  string      `json:"category"`
	Tags      []string    `json:"tags"`
	Image     string      `json:"image"`
	Content   string      `json:"content"`
	Likes     int         `json:"likes"`
	Comments  int         `json:"comments"`
	Views     int         `json:"views"`
}

// AuthorBrief is the author subset kept in the index.
type AuthorBrief struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

// IndexEntryFrom derives the index summary from the authoritative metadata.
func IndexEntryFrom(m Metadata) IndexEntry {
	image := m.Image.FeaturedName()
	if image == "" {
		image = m.Slug + ".jpg"
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return IndexEntry{
		ID:      m.ID,
		Title:   m.Title,
		Excerpt: m.Excerpt,
		Author: AuthorBrief{
			Name:   m.Author.Name,
			Avatar: m.Author.Avatar,
			Role:   m.Author.Role,
		},
		Published: m.Published.UTC().Format(time.DateOnly),
		ReadTime:  m.ReadTime,
		Category:  m.Category,
		Tags:      tags,
		Image:     image,
		Content:   m.Content,
		Likes:     m.Stats.Likes,
		Comments:  m.Stats.Comments,
		Views:     m.Stats.Views,
	}
}

// Upsert replaces the entry with the same id in place or prepends it.
// It reports whether an existing entry was replaced.
func (idx *Index) Upsert(e IndexEntry) bool {
	for i := range idx.Articles {
		if idx.Articles[i].ID == e.ID {
			idx.Articles[i] = e
			return true
		}
	}
	idx.Articles = append([]IndexEntry{e}, idx.Articles...)
	return false
}

// Find returns the entry for id.
func (idx *Index) Find(id string) (IndexEntry, bool) {
	for _, e := range idx.Articles {
		if e.ID == id {
			return e, true
		}
	}
	return IndexEntry{}, false
}
