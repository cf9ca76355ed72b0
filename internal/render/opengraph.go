package render

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/kblog/internal/article"
)

// DescriptionMaxLength bounds og:description.
const DescriptionMaxLength = 160

// OpenGraph is the link-preview metadata of one page.
type OpenGraph struct {
	Title       string
	Description string
	ImageURL    string
	PageURL     string
}

// ArticleOpenGraph derives preview metadata for m served from origin.
func ArticleOpenGraph(m article.Metadata, origin string) OpenGraph {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = "Article"
	}
	return OpenGraph{
		Title:       title,
		Description: Description(title, m.Excerpt),
		ImageURL:    OGImageURL(origin, m.Image.FeaturedName()),
		PageURL:     absolute(origin, "articles/"+m.Slug+"/"),
	}
}

// Description is "<title>: <excerpt>" with whitespace collapsed, truncated
// to DescriptionMaxLength runes with a trailing "...".
func Description(title, excerpt string) string {
	title = strings.TrimSpace(title)
	excerpt = strings.Join(strings.Fields(excerpt), " ")
	var desc string
	switch {
	case title == "" && excerpt == "":
		desc = DefaultSiteName + " Blog"
	case excerpt == "":
		desc = title
	case title == "":
		desc = excerpt
	default:
		desc = title + ": " + excerpt
	}
	return Truncate(desc, DescriptionMaxLength)
}

// Truncate shortens s to at most limit runes, ending in "..." when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}

type metaTag struct {
	attr  string
	key   string
	value string
	id    string
}

// InjectOpenGraph sets the og: and twitter: meta tags of an HTML document,
// replacing existing tags and adding missing ones to <head>.
func InjectOpenGraph(page []byte, og OpenGraph) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	head := doc.Find("head").First()
	tags := []metaTag{
		{attr: "property", key: "og:title", value: og.Title},
		{attr: "property", key: "og:description", value: og.Description},
		{attr: "property", key: "og:url", value: og.PageURL},
		{attr: "property", key: "og:image", value: og.ImageURL, id: "og-image"},
		{attr: "name", key: "twitter:card", value: "summary_large_image"},
		{attr: "name", key: "twitter:title", value: og.Title},
		{attr: "name", key: "twitter:description", value: og.Description},
		{attr: "name", key: "twitter:image", value: og.ImageURL},
	}
	for _, t := range tags {
		sel := head.Find(fmt.Sprintf(`meta[%s=%q]`, t.attr, t.key))
		if sel.Length() == 0 {
			head.AppendHtml(fmt.Sprintf(`<meta %s="%s" content="">`, t.attr, t.key))
			sel = head.Find(fmt.Sprintf(`meta[%s=%q]`, t.attr, t.key))
		}
		sel.SetAttr("content", t.value)
		if t.id != "" {
			sel.SetAttr("id", t.id)
		}
	}
	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return []byte(out), nil
}
