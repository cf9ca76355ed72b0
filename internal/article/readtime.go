package article

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// WordsPerMinute is the reading speed used for readTime.
const WordsPerMinute = 200

// StripTags returns the text content of an HTML fragment.
func StripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	// Block-level siblings carry no whitespace between them in the text
	// node stream, so words from adjacent elements would be merged.
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p,div,li,h1,h2,h3,h4,h5,h6,tr,td,th,blockquote,pre,section,article").AppendHtml(" ")
	return doc.Text()
}

// WordCount counts whitespace-separated words in the text of an HTML fragment.
func WordCount(html string) int {
	return len(strings.Fields(StripTags(html)))
}

// ReadTime returns ceil(words/200) minutes for the HTML content.
func ReadTime(html string) int {
	words := WordCount(html)
	return (words + WordsPerMinute - 1) / WordsPerMinute
}

// ParseTags splits a comma-separated tag list, trimming entries and dropping empties.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
