package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kblog/internal/article"
)

func testMetadata(featured *string) article.Metadata {
	return article.Metadata{
		ID:        "my-great-idea",
		Slug:      "my-great-idea",
		Title:     "My Great Idea!!",
		Excerpt:   "Why <data> matters",
		Author:    article.LookupAuthor("cosmic-analyst"),
		Published: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
		Updated:   time.Date(2025, 2, 4, 4, 5, 6, 0, time.UTC),
		Status:    article.StatusPublished,
		ReadTime:  5,
		Category:  "Strategy",
		Tags:      []string{"data", "asymmetry"},
		Image:     article.Image{Featured: featured, Alt: "My Great Idea!! featured image"},
		SEO:       article.NewSEO("My Great Idea!!", "Why <data> matters", []string{"data"}, "https://kblog.example.com/articles/my-great-idea/"),
		Content:   "<p>Hello <strong>world</strong></p>",
	}
}

func renderDoc(t *testing.T, p Page) (*goquery.Document, string) {
	t.Helper()
	r, err := New("")
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	out, err := r.ArticleBytes(p)
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(out))
	require.NoError(t, err)
	return doc, string(out)
}

func TestArticleWithoutImageShowsAvatarPlaceholder(t *testing.T) {
	t.Parallel()

	doc, _ := renderDoc(t, Page{Article: testMetadata(nil), SiteURL: "https://kblog.example.com"})

	placeholder := doc.Find("#image-placeholder")
	require.Equal(t, 1, placeholder.Length())
	assert.Equal(t, article.LookupAuthor("cosmic-analyst").Avatar, placeholder.Text())
	assert.Equal(t, 0, doc.Find("#featured-image").Length())
	og, _ := doc.Find(`meta[property="og:image"]`).Attr("content")
	assert.Equal(t, "https://kblog.example.com/assets/images/previmgkblog.jpg", og)
}

func TestArticleWithResponsiveImage(t *testing.T) {
	t.Parallel()

	name := "my-great-idea.jpg"
	doc, _ := renderDoc(t, Page{Article: testMetadata(&name), Responsive: true, SiteURL: "https://kblog.example.com/"})

	img := doc.Find("img#featured-image")
	require.Equal(t, 1, img.Length())
	src, _ := img.Attr("src")
	assert.Equal(t, "../../assets/images/articles/my-great-idea.jpg", src)
	srcset, _ := img.Attr("srcset")
	assert.Contains(t, srcset, "../../assets/images/articles/my-great-idea-1200w.jpg 1200w")
	assert.Equal(t, 0, doc.Find("#image-placeholder").Length())
}

func TestArticleWithPlainImage(t *testing.T) {
	t.Parallel()

	name := "my-great-idea.webp"
	doc, _ := renderDoc(t, Page{Article: testMetadata(&name)})
	img := doc.Find("img#featured-image")
	require.Equal(t, 1, img.Length())
	_, hasSrcset := img.Attr("srcset")
	assert.False(t, hasSrcset)
}

func TestArticleEscapesMetadataButNotContent(t *testing.T) {
	t.Parallel()

	m := testMetadata(nil)
	m.Title = `Tom & "Jerry" <script>alert(1)</script>`
	doc, raw := renderDoc(t, Page{Article: m})

	assert.NotContains(t, raw, "<script>alert(1)</script>")
	assert.Equal(t, m.Title, doc.Find("h1.article-title-full").Text())
	assert.Equal(t, "world", doc.Find(".article-content-html strong").Text())
	assert.Equal(t, "Why <data> matters", doc.Find("p.article-lead").Text())
	assert.Contains(t, raw, "&copy; 2025 Kerv Talks-Data Blog.")
}

func TestArticleStructuredData(t *testing.T) {
	t.Parallel()

	m := testMetadata(nil)
	m.Title = "Close </script> tags"
	doc, _ := renderDoc(t, Page{Article: m, SiteURL: "https://kblog.example.com"})

	script := doc.Find(`script[type="application/ld+json"]`)
	require.Equal(t, 1, script.Length())
	var ld map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(script.Text())), &ld))
	assert.Equal(t, "Article", ld["@type"])
	assert.Equal(t, "Close </script> tags", ld["headline"])
	assert.Equal(t, "2025-02-03T04:05:06Z", ld["datePublished"])
	author, ok := ld["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Cosmic Analyst", author["name"])
}

func TestArticleDefaultDescription(t *testing.T) {
	t.Parallel()

	m := testMetadata(nil)
	m.Excerpt = ""
	doc, _ := renderDoc(t, Page{Article: m})
	desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
	assert.Equal(t, DefaultDescription, desc)
	assert.Equal(t, 0, doc.Find("p.article-lead").Length())
	kw, _ := doc.Find(`meta[name="keywords"]`).Attr("content")
	assert.Equal(t, "data, asymmetry, data architecture, information asymmetry", kw)
}
