package article

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTime(t *testing.T) {
	t.Parallel()

	thousand := "<p>" + strings.Repeat("word ", 1000) + "</p>"
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "thousand words", content: thousand, want: 5},
		{name: "one word rounds up", content: "<h1>Hello</h1>", want: 1},
		{name: "two hundred and one", content: strings.Repeat("w ", 201), want: 2},
		{name: "markup only", content: "<div><img src=\"x.png\"></div>", want: 0},
		{name: "adjacent blocks split", content: "<p>one</p><p>two</p>", want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ReadTime(tt.content))
		})
	}
}

func TestWordCountSeparatesBlocks(t *testing.T) {
	t.Parallel()

	require.Equal(t, 3, WordCount("<p>one</p><p>two</p>three<br>"))
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"data", "etl", "lakehouse"}, ParseTags(" data, etl ,, lakehouse ,"))
	require.Equal(t, []string{}, ParseTags(""))
}

func TestLookupAuthorFallsBack(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Cosmic Analyst", LookupAuthor("cosmic-analyst").Name)
	require.Equal(t, DefaultAuthorID, LookupAuthor("nobody").ID)
	require.False(t, KnownAuthor("nobody"))
}

func TestStatsIncrement(t *testing.T) {
	t.Parallel()

	var s Stats
	require.True(t, s.Increment("views", 3))
	require.True(t, s.Increment("likes", 1))
	require.False(t, s.Increment("downloads", 1))
	assert.Equal(t, Stats{Views: 3, Likes: 1}, s)
}

func TestIndexEntryFrom(t *testing.T) {
	t.Parallel()

	published := time.Date(2025, 3, 14, 22, 10, 0, 0, time.UTC)
	m := Metadata{
		ID:        "lakehouse-101",
		Slug:      "lakehouse-101",
		Title:     "Lakehouse 101",
		Author:    LookupAuthor("web-weaver"),
		Published: published,
		ReadTime:  4,
		Category:  "architecture",
		Stats:     Stats{Views: 10, Likes: 2, Comments: 1},
		Content:   "<p>body</p>",
	}

	e := IndexEntryFrom(m)
	assert.Equal(t, "2025-03-14", e.Published)
	assert.Equal(t, "lakehouse-101.jpg", e.Image)
	assert.Equal(t, AuthorBrief{Name: "Web Weaver", Avatar: "🕷️", Role: "Analytics Specialist"}, e.Author)
	assert.Equal(t, []string{}, e.Tags)
	assert.Equal(t, 10, e.Views)

	featured := "lakehouse-101.png"
	m.Image.Featured = &featured
	assert.Equal(t, featured, IndexEntryFrom(m).Image)
}

func TestIndexUpsert(t *testing.T) {
	t.Parallel()

	idx := Index{Articles: []IndexEntry{{ID: "a"}, {ID: "b"}}}

	require.False(t, idx.Upsert(IndexEntry{ID: "c"}))
	require.Equal(t, "c", idx.Articles[0].ID)

	require.True(t, idx.Upsert(IndexEntry{ID: "b", Title: "updated"}))
	require.Len(t, idx.Articles, 3)
	require.Equal(t, "updated", idx.Articles[2].Title)
}

func TestNewSEO(t *testing.T) {
	t.Parallel()

	seo := NewSEO("Data Mesh", "", []string{"mesh"}, "https://example.com/articles/data-mesh/")
	assert.Equal(t, "Data Mesh - Kerv Talks-Data Blog", seo.MetaTitle)
	assert.Equal(t, "Professional insights on Data Mesh and data architecture.", seo.MetaDescription)
	assert.Equal(t, []string{"mesh"}, seo.Keywords)
}

func TestArchive(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	m := Metadata{Status: StatusPublished}
	m.Archive(now)
	assert.Equal(t, StatusArchived, m.Status)
	assert.True(t, m.Settings.Archived)
	assert.Equal(t, now, m.Updated)
}
