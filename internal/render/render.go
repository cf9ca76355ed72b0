// Package render turns article records into the static article page and
// decorates pages with Open Graph metadata for link previews.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/imaging"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Site-wide defaults.
const (
	DefaultSiteName    = "Kerv Talks-Data"
	DefaultDescription = "Professional insights on data architecture and enterprise strategies."
	DefaultOGImage     = "assets/images/previmgkblog.jpg"
	ImagesPath         = "assets/images/articles/"

	// relative to articles/<slug>/index.html
	pageImagePrefix = "../../" + ImagesPath
)

// Page is everything the article template needs.
type Page struct {
	Article article.Metadata
	// Responsive is set when every width variant of the featured image exists.
	Responsive bool
	// SiteURL is the absolute public origin, used for og:image and the publisher logo.
	SiteURL string
}

// Renderer executes the embedded article template.
type Renderer struct {
	tmpl     *template.Template
	siteName string
	now      func() time.Time
}

// New parses the embedded templates. An empty siteName uses DefaultSiteName.
func New(siteName string) (*Renderer, error) {
	if siteName == "" {
		siteName = DefaultSiteName
	}
	tmpl, err := template.New("article.html.tmpl").ParseFS(templateFS, "templates/article.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse article template: %w", err)
	}
	return &Renderer{tmpl: tmpl, siteName: siteName, now: time.Now}, nil
}

type pageData struct {
	Article        article.Metadata
	SiteName       string
	Description    string
	Keywords       string
	OGImage        string
	FeaturedImage  template.HTML
	Content        template.HTML
	StructuredData template.JS
	Year           int
}

// Article writes the rendered page for p to w.
func (r *Renderer) Article(w io.Writer, p Page) error {
	data, err := r.pageData(p)
	if err != nil {
		return err
	}
	if err := r.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render article %s: %w", p.Article.Slug, err)
	}
	return nil
}

// ArticleBytes renders p into memory.
func (r *Renderer) ArticleBytes(p Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Article(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) pageData(p Page) (pageData, error) {
	m := p.Article
	desc := m.Excerpt
	if desc == "" {
		desc = DefaultDescription
	}
	keywords := append(append([]string(nil), m.Tags...), "data architecture", "information asymmetry")

	var featured template.HTML
	if name := m.Image.FeaturedName(); name != "" {
		alt := m.Image.Alt
		if alt == "" {
			alt = m.Title
		}
		if p.Responsive {
			featured = imaging.ResponsiveImage(pageImagePrefix+name, alt, imaging.ArticleView)
		} else {
			featured = imaging.PlainImage(pageImagePrefix+name, alt, imaging.ArticleView)
		}
	}

	ld, err := structuredData(m, r.siteName, p.SiteURL, desc)
	if err != nil {
		return pageData{}, err
	}
	return pageData{
		Article:        m,
		SiteName:       r.siteName,
		Description:    desc,
		Keywords:       strings.Join(keywords, ", "),
		OGImage:        OGImageURL(p.SiteURL, m.Image.FeaturedName()),
		FeaturedImage:  featured,
		Content:        template.HTML(m.Content), //nolint:gosec // article bodies are authored HTML
		StructuredData: ld,
		Year:           r.now().Year(),
	}, nil
}

type ldPerson struct {
	Type     string `json:"@type"`
	Name     string `json:"name"`
	JobTitle string `json:"jobTitle,omitempty"`
}

type ldImage struct {
	Type string `json:"@type"`
	URL  string `json:"url"`
}

type ldOrganization struct {
	Type string  `json:"@type"`
	Name string  `json:"name"`
	Logo ldImage `json:"logo"`
}

type ldArticle struct {
	Context       string         `json:"@context"`
	Type          string         `json:"@type"`
	Headline      string         `json:"headline"`
	Author        ldPerson       `json:"author"`
	Publisher     ldOrganization `json:"publisher"`
	DatePublished string         `json:"datePublished"`
	DateModified  string         `json:"dateModified,omitempty"`
	Description   string         `json:"description"`
	Image         string         `json:"image,omitempty"`
	Keywords      string         `json:"keywords,omitempty"`
}

// structuredData builds the schema.org Article. encoding/json escapes <, >
// and &, so the result is safe inside a script element.
func structuredData(m article.Metadata, siteName, siteURL, desc string) (template.JS, error) {
	doc := ldArticle{
		Context:  "https://schema.org",
		Type:     "Article",
		Headline: m.Title,
		Author:   ldPerson{Type: "Person", Name: m.Author.Name, JobTitle: m.Author.Role},
		Publisher: ldOrganization{
			Type: "Organization",
			Name: siteName,
			Logo: ldImage{Type: "ImageObject", URL: absolute(siteURL, "assets/images/logo.png")},
		},
		DatePublished: m.Published.UTC().Format(time.RFC3339),
		Description:   desc,
		Keywords:      strings.Join(m.Tags, ", "),
	}
	if !m.Updated.IsZero() {
		doc.DateModified = m.Updated.UTC().Format(time.RFC3339)
	}
	if name := m.Image.FeaturedName(); name != "" {
		doc.Image = absolute(siteURL, ImagesPath+name)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal structured data: %w", err)
	}
	return template.JS(raw), nil //nolint:gosec // produced by encoding/json
}

// OGImageURL is the absolute preview image for an article: its featured
// image, or the site default when it has none.
func OGImageURL(siteURL, featured string) string {
	featured = strings.TrimSpace(featured)
	if featured == "" {
		return absolute(siteURL, DefaultOGImage)
	}
	if strings.HasPrefix(featured, "http://") || strings.HasPrefix(featured, "https://") {
		return featured
	}
	return absolute(siteURL, ImagesPath+featured)
}

func absolute(siteURL, p string) string {
	return strings.TrimRight(siteURL, "/") + "/" + strings.TrimLeft(p, "/")
}
