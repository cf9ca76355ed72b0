package manage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/publish"
)

// DefaultCategory is used when a markdown draft names none.
const DefaultCategory = "Technology"

// FrontMatter is the YAML header of a markdown draft. Tags may be a list or a
// comma-separated string. Image is resolved relative to the markdown file.
type FrontMatter struct {
	Title    string `yaml:"title"`
	Excerpt  string `yaml:"excerpt"`
	Category string `yaml:"category"`
	Author   string `yaml:"author"`
	Tags     any    `yaml:"tags"`
	Featured bool   `yaml:"featured"`
	Image    string `yaml:"image"`
	Comments *bool  `yaml:"comments"`
	Notify   bool   `yaml:"notify"`
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// ParseDraft converts a markdown document with optional front matter into a
// publish draft. name is the source file name, used for a missing title.
func ParseDraft(name string, src []byte) (publish.Draft, FrontMatter, error) {
	var fm FrontMatter
	body, err := frontmatter.Parse(bytes.NewReader(src), &fm)
	if err != nil {
		return publish.Draft{}, fm, fmt.Errorf("parse front matter: %w", err)
	}
	var html bytes.Buffer
	if err := markdown.Convert(body, &html); err != nil {
		return publish.Draft{}, fm, fmt.Errorf("convert markdown: %w", err)
	}
	title := strings.TrimSpace(fm.Title)
	if title == "" {
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		title = cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(base))
	}
	category := strings.TrimSpace(fm.Category)
	if category == "" {
		category = DefaultCategory
	}
	allowComments := true
	if fm.Comments != nil {
		allowComments = *fm.Comments
	}
	return publish.Draft{
		Title:             title,
		Excerpt:           fm.Excerpt,
		Category:          category,
		Author:            fm.Author,
		Tags:              frontMatterTags(fm.Tags),
		Content:           html.String(),
		Featured:          fm.Featured,
		AllowComments:     allowComments,
		NotifySubscribers: fm.Notify,
	}, fm, nil
}

func frontMatterTags(v any) []string {
	switch t := v.(type) {
	case string:
		return article.ParseTags(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return article.ParseTags(strings.Join(parts, ","))
	default:
		return []string{}
	}
}

// CreateFromMarkdown publishes the markdown file at path through the same
// publisher used by the HTTP API.
func (m *Manager) CreateFromMarkdown(ctx context.Context, path string) (publish.Result, error) {
	if m.pub == nil {
		return publish.Result{}, fmt.Errorf("publisher is required")
	}
	src, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return publish.Result{}, fmt.Errorf("read draft: %w", err)
	}
	draft, fm, err := ParseDraft(path, src)
	if err != nil {
		return publish.Result{}, err
	}

	var up *publish.Upload
	if fm.Image != "" {
		imgPath := fm.Image
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(filepath.Dir(path), imgPath)
		}
		f, err := os.Open(imgPath) // #nosec G304 -- referenced by the draft
		if err != nil {
			m.logger.Warn("featured image unreadable, publishing without image", zap.String("image", imgPath), zap.Error(err))
		} else {
			defer f.Close() //nolint:errcheck // read-only
			up = &publish.Upload{Filename: filepath.Base(imgPath), Body: f}
		}
	}
	return m.pub.Publish(ctx, draft, up)
}
