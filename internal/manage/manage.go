// Package manage implements the editorial maintenance operations behind the
// articles and images commands: listing, field updates, archiving, totals,
// export and index reconciliation.
package manage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/publish"
)

// ErrFieldPath is returned when an update names a field that cannot be set.
var ErrFieldPath = errors.New("invalid field path")

// protected fields name the article directory or are maintained by the store.
var protected = map[string]bool{"id": true, "slug": true, "updated": true}

// Manager runs maintenance operations over one content tree.
type Manager struct {
	store  *content.Store
	pub    *publish.Publisher
	sizes  publish.SizeGenerator
	logger *zap.Logger
}

// New builds a Manager. pub re-renders pages after edits; sizes backs the image backfill.
func New(store *content.Store, pub *publish.Publisher, sizes publish.SizeGenerator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, pub: pub, sizes: sizes, logger: logger}
}

// List returns every article, newest first.
func (m *Manager) List() ([]article.Metadata, error) {
	records, err := m.store.ListMetadata()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Published.After(records[j].Published)
	})
	return records, nil
}

// Update sets the dotted field path of slug's metadata to value and
// re-renders the page. String fields take value verbatim; other fields parse
// it as JSON.
func (m *Manager) Update(slug, fieldPath, value string) (article.Metadata, error) {
	keys := strings.Split(fieldPath, ".")
	if fieldPath == "" || protected[keys[0]] {
		return article.Metadata{}, fmt.Errorf("%w: %q", ErrFieldPath, fieldPath)
	}
	updated, err := m.store.UpdateMetadata(slug, func(md *article.Metadata) error {
		return setField(md, keys, value)
	})
	if err != nil {
		return updated, err
	}
	if err := m.rerender(slug); err != nil {
		return updated, err
	}
	m.logger.Info("article updated", zap.String("slug", slug), zap.String("field", fieldPath))
	return updated, nil
}

func setField(md *article.Metadata, keys []string, value string) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	parent := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := parent[k].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q is not an object", ErrFieldPath, k)
		}
		parent = next
	}
	leaf := keys[len(keys)-1]
	current, ok := parent[leaf]
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrFieldPath, strings.Join(keys, "."))
	}
	switch current.(type) {
	case string:
		parent[leaf] = value
	case nil:
		// nullable string fields such as image.featured
		parent[leaf] = value
		if value == "" || value == "null" {
			parent[leaf] = nil
		}
	default:
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return fmt.Errorf("%w: %q needs a JSON value: %v", ErrFieldPath, strings.Join(keys, "."), err)
		}
		parent[leaf] = v
	}
	raw, err = json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var out article.Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrFieldPath, err)
	}
	*md = out
	return nil
}

// Archive marks slug archived. The article stays on disk and in the index.
func (m *Manager) Archive(slug string) (article.Metadata, error) {
	updated, err := m.store.UpdateMetadata(slug, func(md *article.Metadata) error {
		// the store bumps updated after fn returns
		md.Archive(md.Updated)
		return nil
	})
	if err != nil {
		return updated, err
	}
	m.logger.Info("article archived", zap.String("slug", slug))
	return updated, nil
}

func (m *Manager) rerender(slug string) error {
	if m.pub == nil {
		return nil
	}
	return m.pub.Rerender(slug)
}

// Count is a label with the number of articles carrying it.
type Count struct {
	Label    string
	Articles int
}

// Summary aggregates counters over every article.
type Summary struct {
	Articles   int
	Views      int
	Likes      int
	Comments   int
	Shares     int
	Categories []Count
	Authors    []Count
}

// Stats totals the engagement counters and groups articles by category and
// author. Categories differing only in case are merged under a title-cased label.
func (m *Manager) Stats() (Summary, error) {
	records, err := m.store.ListMetadata()
	if err != nil {
		return Summary{}, err
	}
	caser := cases.Title(language.English)
	categories := map[string]int{}
	authors := map[string]int{}
	var s Summary
	for _, md := range records {
		s.Articles++
		s.Views += md.Stats.Views
		s.Likes += md.Stats.Likes
		s.Comments += md.Stats.Comments
		s.Shares += md.Stats.Shares
		categories[caser.String(strings.TrimSpace(md.Category))]++
		authors[md.Author.Name]++
	}
	s.Categories = sortedCounts(categories)
	s.Authors = sortedCounts(authors)
	return s, nil
}

func sortedCounts(in map[string]int) []Count {
	out := make([]Count, 0, len(in))
	for label, n := range in {
		out = append(out, Count{Label: label, Articles: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Articles != out[j].Articles {
			return out[i].Articles > out[j].Articles
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ExportPath is where ExportFile writes by default, relative to the content root.
const ExportPath = "docs/articles-export.txt"

// Export writes the index as a markdown table of published date, title,
// excerpt and author. It returns the number of rows.
func (m *Manager) Export(w io.Writer) (int, error) {
	idx, err := m.store.ReadIndex()
	if err != nil {
		return 0, err
	}
	lines := []string{
		"Published timestamp | Title | Excerpt | Author",
		"--- | --- | --- | ---",
	}
	for _, e := range idx.Articles {
		lines = append(lines, strings.Join([]string{
			cell(e.Published), cell(e.Title), cell(e.Excerpt), cell(e.Author.Name),
		}, " | "))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(idx.Articles), nil
}

// ExportFile writes Export to path, or to ExportPath under the content root
// when path is empty. It returns the written path and row count.
func (m *Manager) ExportFile(path string) (string, int, error) {
	if path == "" {
		path = filepath.Join(m.store.RootDir(), filepath.FromSlash(ExportPath))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}
	var b strings.Builder
	n, err := m.Export(&b)
	if err != nil {
		return "", 0, err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil { // #nosec G306 -- shared export
		return "", 0, fmt.Errorf("write export: %w", err)
	}
	return path, n, nil
}

var cellReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "|", `\|`)

func cell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}

// Reindex rebuilds data/articles.json from every metadata file.
func (m *Manager) Reindex() (int, error) {
	n, err := m.store.Reindex()
	if err != nil {
		return 0, err
	}
	m.logger.Info("index rebuilt", zap.Int("articles", n))
	return n, nil
}
