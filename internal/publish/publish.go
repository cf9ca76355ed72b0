// Package publish turns an editor draft into a published article: it
// renders the page, writes the metadata and comments scaffold, processes the
// featured image and keeps the aggregate index in step.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/imaging"
	"github.com/JakeFAU/kblog/internal/metrics"
	"github.com/JakeFAU/kblog/internal/publisher"
	"github.com/JakeFAU/kblog/internal/render"
	"github.com/JakeFAU/kblog/internal/slug"
	"github.com/JakeFAU/kblog/internal/storage"
)

// Draft is the editorial input of one publish.
type Draft struct {
	Title             string
	Excerpt           string
	Category          string
	Author            string
	Tags              []string
	Content           string
	Featured          bool
	AllowComments     bool
	NotifySubscribers bool
}

// Upload is an optional featured image.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Result identifies the published article.
type Result struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ValidationError lists missing or unusable draft fields. Nothing was written.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "Missing required fields: title, category, and content are required"
}

// SizeGenerator produces responsive width variants of an image.
type SizeGenerator interface {
	GenerateSizes(ctx context.Context, sourcePath, outputDir, baseName string) ([]string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher runs the publish steps against a content store.
type Publisher struct {
	store    *content.Store
	renderer *render.Renderer
	sizes    SizeGenerator
	mirror   *storage.Mirror
	notifier publisher.Publisher
	clock    Clock
	baseURL  string
	logger   *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMirror copies featured images and their variants to a blob store.
func WithMirror(m *storage.Mirror) Option { return func(p *Publisher) { p.mirror = m } }

// WithNotifier emits an article.published event when a draft asks for it.
func WithNotifier(n publisher.Publisher) Option { return func(p *Publisher) { p.notifier = n } }

// WithClock overrides the time source.
func WithClock(c Clock) Option { return func(p *Publisher) { p.clock = c } }

// New builds a Publisher. baseURL is the public site origin, e.g. https://kblog.example.com.
func New(store *content.Store, renderer *render.Renderer, sizes SizeGenerator, baseURL string, logger *zap.Logger, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		store:    store,
		renderer: renderer,
		sizes:    sizes,
		clock:    systemClock{},
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// URL is the public address of an article.
func (p *Publisher) URL(slug string) string {
	return p.baseURL + "/articles/" + slug + "/"
}

// Publish validates d and writes the article. Image problems are logged and
// never fail the publish. Errors after validation are not rolled back.
func (p *Publisher) Publish(ctx context.Context, d Draft, up *Upload) (Result, error) {
	start := time.Now()
	res, err := p.publish(ctx, d, up)
	outcome := metrics.OutcomeSuccess
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		outcome = "invalid"
	case err != nil:
		outcome = metrics.OutcomeFailure
	}
	metrics.ObservePublish(outcome, time.Since(start))
	return res, err
}

func (p *Publisher) publish(ctx context.Context, d Draft, up *Upload) (Result, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	if missing := missingFields(d); len(missing) > 0 {
		return Result{}, &ValidationError{Fields: missing}
	}
	s := slug.Make(d.Title)
	if !content.ValidSlug(s) {
		return Result{}, &ValidationError{Fields: []string{"title"}}
	}
	log := p.logger.With(zap.String("slug", s))
	now := p.clock.Now()

	previous, prevErr := p.store.ReadMetadata(s)
	republish := prevErr == nil
	if prevErr != nil && !errors.Is(prevErr, content.ErrNotFound) {
		log.Warn("existing metadata unreadable, publishing fresh", zap.Error(prevErr))
	}

	var featured *string
	if up != nil && up.Body != nil {
		name, err := p.relocate(s, up)
		if err != nil {
			log.Warn("featured image relocation failed, publishing without image", zap.Error(err))
		} else {
			featured = &name
			p.processImage(ctx, log, name)
		}
	}

	if err := p.store.EnsureArticleDir(s); err != nil {
		return Result{}, err
	}

	url := p.URL(s)
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	m := article.Metadata{
		ID:        s,
		Slug:      s,
		Title:     d.Title,
		Excerpt:   strings.TrimSpace(d.Excerpt),
		Author:    article.LookupAuthor(d.Author),
		Published: now,
		Updated:   now,
		Status:    article.StatusPublished,
		ReadTime:  article.ReadTime(d.Content),
		Category:  d.Category,
		Tags:      tags,
		Image:     article.Image{Featured: featured, Alt: d.Title + " featured image"},
		SEO:       article.NewSEO(d.Title, strings.TrimSpace(d.Excerpt), tags, url),
		Settings: article.Settings{
			Featured:          d.Featured,
			AllowComments:     d.AllowComments,
			NotifySubscribers: d.NotifySubscribers,
		},
		Content: d.Content,
	}
	if republish {
		m.Published = previous.Published
		m.Stats = previous.Stats
	}

	if err := p.writePage(m); err != nil {
		return Result{}, err
	}
	if err := p.store.WriteMetadata(m); err != nil {
		return Result{}, err
	}
	if err := p.store.WriteComments(s, article.EmptyComments(s)); err != nil {
		return Result{}, err
	}
	replaced, err := p.store.UpsertIndex(article.IndexEntryFrom(m))
	if err != nil {
		return Result{}, err
	}
	log.Info("article published",
		zap.String("url", url),
		zap.Bool("replaced", replaced),
		zap.Bool("featured_image", featured != nil),
		zap.Int("read_time", m.ReadTime),
	)

	if d.NotifySubscribers {
		p.notify(ctx, log, m, url)
	}
	return Result{ID: m.ID, Slug: m.Slug, Title: m.Title, URL: url}, nil
}

// Rerender rebuilds index.html for slug from its stored metadata.
func (p *Publisher) Rerender(slug string) error {
	m, err := p.store.ReadMetadata(slug)
	if err != nil {
		return err
	}
	return p.writePage(m)
}

func (p *Publisher) writePage(m article.Metadata) error {
	responsive := false
	if name := m.Image.FeaturedName(); name != "" {
		ext := filepath.Ext(name)
		responsive = imaging.SizesExist(p.store.ImagesDir(), imaging.BaseFilename(name), ext)
	}
	page, err := p.renderer.ArticleBytes(render.Page{Article: m, Responsive: responsive, SiteURL: p.baseURL})
	if err != nil {
		return err
	}
	return p.store.WritePage(m.Slug, page)
}

// relocate writes the upload to <imagesDir>/<slug><ext> after removing any
// earlier original and its variants.
func (p *Publisher) relocate(s string, up *Upload) (string, error) {
	ext := Extension(up.Filename, up.ContentType)
	if ext == "" {
		return "", fmt.Errorf("cannot determine image type of %q (%s)", up.Filename, up.ContentType)
	}
	dir := p.store.ImagesDir()
	if _, err := imaging.RemoveExisting(dir, s); err != nil {
		return "", err
	}
	name := s + ext
	dst := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, up.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { // #nosec G302 -- served as a static asset
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("move image into place: %w", err)
	}
	return name, nil
}

func (p *Publisher) processImage(ctx context.Context, log *zap.Logger, name string) {
	dir := p.store.ImagesDir()
	original := filepath.Join(dir, name)
	files := []string{original}
	if p.sizes != nil {
		variants, err := p.sizes.GenerateSizes(ctx, original, dir, imaging.BaseFilename(name))
		if err != nil {
			log.Warn("responsive image generation failed", zap.String("image", name), zap.Error(err))
		}
		files = append(files, variants...)
	}
	if p.mirror != nil {
		uris := p.mirror.MirrorFiles(ctx, p.store.RootDir(), files)
		log.Debug("featured image mirrored", zap.Strings("uris", uris))
	}
}

func (p *Publisher) notify(ctx context.Context, log *zap.Logger, m article.Metadata, url string) {
	if p.notifier == nil {
		return
	}
	id, err := p.notifier.Publish(ctx, publisher.Event{
		Type:       publisher.ArticlePublished,
		Key:        m.Slug,
		OccurredAt: m.Updated,
		Payload: publisher.ArticlePayload{
			ID:       m.ID,
			Title:    m.Title,
			Excerpt:  m.Excerpt,
			Category: m.Category,
			Tags:     m.Tags,
			Author:   m.Author.Name,
			URL:      url,
		},
	})
	if err != nil {
		log.Warn("article notification failed", zap.Error(err))
		return
	}
	log.Info("article notification sent", zap.String("message_id", id))
}

func missingFields(d Draft) []string {
	var missing []string
	if d.Title == "" {
		missing = append(missing, "title")
	}
	if d.Category == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(d.Content) == "" {
		missing = append(missing, "content")
	}
	return missing
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Extension picks the stored extension for an upload: the lowercased
// filename extension, else one derived from the MIME type.
func Extension(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && ext != "." {
		return ext
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mimeExtensions[ct]
}

// AllowedImageType reports whether contentType may be uploaded as a featured image.
func AllowedImageType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	_, ok := mimeExtensions[ct]
	return ok
}
