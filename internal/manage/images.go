package manage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/imaging"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Report counts the outcome of a batch operation.
type Report struct {
	Processed int
	Skipped   int
	Failed    int
}

// BackfillImages generates the width variants of every original image in the
// images directory that is missing at least one of them.
func (m *Manager) BackfillImages(ctx context.Context) (Report, error) {
	var r Report
	if m.sizes == nil {
		return r, fmt.Errorf("image pipeline is required")
	}
	dir := m.store.ImagesDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return r, fmt.Errorf("read image directory: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || !imageExtensions[ext] || imaging.IsVariant(name) {
			continue
		}
		base := imaging.BaseFilename(name)
		if imaging.SizesExist(dir, base, ext) {
			r.Skipped++
			continue
		}
		out, err := m.sizes.GenerateSizes(ctx, filepath.Join(dir, name), dir, base)
		if err != nil {
			m.logger.Warn("image backfill failed", zap.String("image", name), zap.Error(err))
			r.Failed++
			continue
		}
		m.logger.Info("image sizes generated", zap.String("image", name), zap.Int("variants", len(out)))
		r.Processed++
	}
	return r, nil
}

// RewriteHTML replaces the featured <img> of every article page whose image
// has all width variants with the responsive markup. Pages already carrying a
// srcset, or without a featured image, are skipped.
func (m *Manager) RewriteHTML() (Report, error) {
	var r Report
	slugs, err := m.store.ListSlugs()
	if err != nil {
		return r, err
	}
	for _, slug := range slugs {
		changed, err := m.rewritePage(slug)
		switch {
		case err != nil:
			m.logger.Warn("page rewrite failed", zap.String("slug", slug), zap.Error(err))
			r.Failed++
		case changed:
			m.logger.Info("page rewritten", zap.String("slug", slug))
			r.Processed++
		default:
			r.Skipped++
		}
	}
	return r, nil
}

func (m *Manager) rewritePage(slug string) (bool, error) {
	page, err := m.store.ReadPage(slug)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return false, fmt.Errorf("parse page: %w", err)
	}
	img := doc.Find("img#featured-image").First()
	if img.Length() == 0 {
		return false, nil
	}
	if _, ok := img.Attr("srcset"); ok {
		return false, nil
	}
	src, _ := img.Attr("src")
	if src == "" {
		return false, nil
	}
	file := path.Base(src)
	if !imaging.SizesExist(m.store.ImagesDir(), imaging.BaseFilename(file), path.Ext(file)) {
		return false, nil
	}
	alt, _ := img.Attr("alt")
	img.ReplaceWithHtml(string(imaging.ResponsiveImage(src, alt, imaging.ArticleView)))

	out, err := doc.Html()
	if err != nil {
		return false, fmt.Errorf("serialize page: %w", err)
	}
	if err := m.store.WritePage(slug, []byte(out)); err != nil {
		return false, err
	}
	return true, nil
}
