package imaging

import (
	"html/template"
	"path"
	"strconv"
	"strings"
)

// View selects the sizes attribute and sizing styles of the markup.
type View int

const (
	// ArticleView is the full-width featured image on an article page.
	ArticleView View = iota
	// GridView is a card thumbnail in an article listing.
	GridView
)

const (
	articleSizes = "(max-width: 768px) 100vw, (max-width: 1200px) 90vw, 1128px"
	gridSizes    = "(max-width: 768px) 100vw, (max-width: 1200px) 50vw, 33vw"
)

// Sizes returns the sizes attribute for the view.
func (v View) Sizes() string {
	if v == GridView {
		return gridSizes
	}
	return articleSizes
}

func (v View) style() string {
	maxHeight := 500
	if v == GridView {
		maxHeight = 300
	}
	return "width: 100%; height: auto; max-height: " + strconv.Itoa(maxHeight) +
		"px; display: block; object-fit: contain; object-position: center; border-radius: 8px;"
}

// VariantURL inserts -<width>w before the extension of an image URL or path.
func VariantURL(src string, width int) string {
	dir, file := path.Split(src)
	ext := path.Ext(file)
	return dir + VariantName(strings.TrimSuffix(file, ext), width, ext)
}

// Srcset lists every width variant of src with its w descriptor.
func Srcset(src string) string {
	parts := make([]string, 0, len(Widths))
	for _, w := range Widths {
		parts = append(parts, VariantURL(src, w)+" "+strconv.Itoa(w)+"w")
	}
	return strings.Join(parts, ", ")
}

// ResponsiveImage renders an <img> whose src is the original and whose srcset
// names the generated variants. The variants are assumed to exist.
func ResponsiveImage(src, alt string, view View) template.HTML {
	return imgTag(src, alt, view, true)
}

// PlainImage renders the same <img> without srcset, for images whose variants
// were never generated.
func PlainImage(src, alt string, view View) template.HTML {
	return imgTag(src, alt, view, false)
}

func imgTag(src, alt string, view View, responsive bool) template.HTML {
	var b strings.Builder
	b.WriteString(`<img src="`)
	b.WriteString(template.HTMLEscapeString(src))
	b.WriteString(`"`)
	if responsive {
		b.WriteString(` srcset="`)
		b.WriteString(template.HTMLEscapeString(Srcset(src)))
		b.WriteString(`" sizes="`)
		b.WriteString(view.Sizes())
		b.WriteString(`"`)
	}
	b.WriteString(` alt="`)
	b.WriteString(template.HTMLEscapeString(alt))
	b.WriteString(`" loading="lazy" decoding="async" style="`)
	b.WriteString(view.style())
	b.WriteString(`"`)
	if view == ArticleView {
		b.WriteString(` id="featured-image"`)
	}
	b.WriteString(`>`)
	return template.HTML(b.String()) //nolint:gosec // every interpolated value is escaped above
}
