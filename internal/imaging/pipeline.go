// Package imaging generates responsive width variants of featured images and
// the srcset markup that references them.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/metrics"
)

// Widths is the fixed ladder of variant widths in pixels.
var Widths = []int{400, 600, 900, 1200}

// DefaultJPEGQuality is used for JPEG variants.
const DefaultJPEGQuality = 85

// ErrUnsupportedFormat is returned for sources whose extension cannot be encoded.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var variantSuffix = regexp.MustCompile(`-\d+w(\.[^.]+)$`)

// Pipeline resizes images onto the width ladder.
type Pipeline struct {
	quality int
	logger  *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithJPEGQuality overrides the JPEG encoder quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(p *Pipeline) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// NewPipeline constructs a Pipeline.
func NewPipeline(logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{quality: DefaultJPEGQuality, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateSizes writes <baseName>-<width>w<ext> into outputDir for every width
// of the ladder, never wider than the source. A failing width is logged and
// skipped; the returned slice lists the files that were written. An error is
// returned only when the source itself cannot be used.
func (p *Pipeline) GenerateSizes(ctx context.Context, sourcePath, outputDir, baseName string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if _, err := imaging.FormatFromFilename(sourcePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	src, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	bounds := src.Bounds()
	p.logger.Debug("generating image sizes",
		zap.String("source", sourcePath),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
	)

	generated := make([]string, 0, len(Widths))
	for _, width := range Widths {
		if err := ctx.Err(); err != nil {
			return generated, fmt.Errorf("generate sizes: %w", err)
		}
		out := filepath.Join(outputDir, VariantName(baseName, width, ext))
		if err := p.writeVariant(src, width, out); err != nil {
			p.logger.Warn("image size failed",
				zap.String("source", sourcePath),
				zap.Int("width", width),
				zap.Error(err),
			)
			continue
		}
		generated = append(generated, out)
	}
	metrics.ObserveImageVariants(len(generated), len(Widths)-len(generated))
	return generated, nil
}

func (p *Pipeline) writeVariant(src image.Image, width int, out string) error {
	w, h := TargetSize(src.Bounds().Dx(), src.Bounds().Dy(), width)
	if w == 0 || h == 0 {
		return fmt.Errorf("source has no pixels")
	}
	dst := imaging.Resize(src, w, h, imaging.Lanczos)
	if err := imaging.Save(dst, out, imaging.JPEGQuality(p.quality)); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(out), err)
	}
	return nil
}

// TargetSize clamps width to the source width and scales height to keep the
// aspect ratio.
func TargetSize(srcW, srcH, width int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	w := min(width, srcW)
	h := (srcH*w + srcW/2) / srcW
	if h < 1 {
		h = 1
	}
	return w, h
}

// VariantName returns <baseName>-<width>w<ext>.
func VariantName(baseName string, width int, ext string) string {
	return baseName + "-" + strconv.Itoa(width) + "w" + ext
}

// BaseFilename strips the extension and any -<n>w suffix from a file name.
func BaseFilename(name string) string {
	name = filepath.Base(name)
	if m := variantSuffix.FindStringIndex(name); m != nil {
		return name[:m[0]]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IsVariant reports whether name is a generated width variant.
func IsVariant(name string) bool {
	return variantSuffix.MatchString(filepath.Base(name))
}

// SizesExist reports whether every width variant of baseName exists in dir.
func SizesExist(dir, baseName, ext string) bool {
	for _, width := range Widths {
		info, err := os.Stat(filepath.Join(dir, VariantName(baseName, width, ext)))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// RemoveExisting deletes the original <baseName>.<ext> files and every
// <baseName>-<n>w variant in dir, returning the removed paths. Names sharing
// only a prefix with baseName are left alone.
func RemoveExisting(dir, baseName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read image directory: %w", err)
	}
	own := regexp.MustCompile(`^` + regexp.QuoteMeta(baseName) + `(-\d+w)?\.[^.]+$`)
	var removed []string
	for _, e := range entries {
		if e.IsDir() || !own.MatchString(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
