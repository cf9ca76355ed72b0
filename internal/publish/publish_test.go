package publish

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/imaging"
	"github.com/JakeFAU/kblog/internal/publisher"
	pubmemory "github.com/JakeFAU/kblog/internal/publisher/memory"
	"github.com/JakeFAU/kblog/internal/render"
	"github.com/JakeFAU/kblog/internal/storage"
	blobmemory "github.com/JakeFAU/kblog/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type fixture struct {
	pub   *Publisher
	store *content.Store
	clock *fixedClock
	root  string
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	root := t.TempDir()
	clock := &fixedClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	store, err := content.New(content.Config{RootDir: root}, clock, zap.NewNop())
	require.NoError(t, err)
	r, err := render.New("")
	require.NoError(t, err)
	opts = append([]Option{WithClock(clock)}, opts...)
	pub, err := New(store, r, imaging.NewPipeline(zap.NewNop()), "https://blog.example.com/", zap.NewNop(), opts...)
	require.NoError(t, err)
	return fixture{pub: pub, store: store, clock: clock, root: root}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func draft() Draft {
	return Draft{
		Title:    "  Hello, World!  ",
		Excerpt:  "A first post",
		Category: "Data",
		Author:   "data-crusader",
		Tags:     []string{"go", "data"},
		Content:  "<p>" + strings.Repeat("word ", 450) + "</p>",
	}
}

func TestPublishWithoutImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.pub.Publish(context.Background(), draft(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{
		ID:    "hello-world",
		Slug:  "hello-world",
		Title: "Hello, World!",
		URL:   "https://blog.example.com/articles/hello-world/",
	}, res)

	m, err := f.store.ReadMetadata("hello-world")
	require.NoError(t, err)
	assert.Nil(t, m.Image.Featured)
	assert.Equal(t, 3, m.ReadTime)
	assert.Equal(t, article.StatusPublished, m.Status)
	assert.Equal(t, "Hello, World! featured image", m.Image.Alt)
	assert.Equal(t, res.URL, m.SEO.Canonical)

	page, err := f.store.ReadPage("hello-world")
	require.NoError(t, err)
	assert.Contains(t, string(page), `id="image-placeholder"`)

	comments, err := f.store.ReadComments("hello-world")
	require.NoError(t, err)
	assert.Equal(t, article.EmptyComments("hello-world"), comments)

	idx, err := f.store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Articles, 1)
	assert.Equal(t, "hello-world", idx.Articles[0].ID)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Draft)
		fields []string
	}{
		{name: "blank title", mutate: func(d *Draft) { d.Title = "   " }, fields: []string{"title"}},
		{name: "no category", mutate: func(d *Draft) { d.Category = "" }, fields: []string{"category"}},
		{name: "no content", mutate: func(d *Draft) { d.Content = "" }, fields: []string{"content"}},
		{name: "punctuation title", mutate: func(d *Draft) { d.Title = "!!!" }, fields: []string{"title"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			d := draft()
			tt.mutate(&d)

			_, err := f.pub.Publish(context.Background(), d, nil)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.fields, vErr.Fields)

			slugs, err := f.store.ListSlugs()
			require.NoError(t, err)
			assert.Empty(t, slugs)
		})
	}
}

func TestPublishTwiceReplacesIndexEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pub.Publish(ctx, draft(), nil)
	require.NoError(t, err)
	first := f.clock.now
	_, err = f.store.IncrementStat("hello-world", "views", 7)
	require.NoError(t, err)

	f.clock.now = first.Add(time.Hour)
	d := draft()
	d.Excerpt = "Edited"
	_, err = f.pub.Publish(ctx, d, nil)
	require.NoError(t, err)

	idx, err := f.store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Articles, 1)
	assert.Equal(t, "Edited", idx.Articles[0].Excerpt)

	slugs, err := f.store.ListSlugs()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello-world"}, slugs)

	m, err := f.store.ReadMetadata("hello-world")
	require.NoError(t, err)
	assert.True(t, m.Published.Equal(first))
	assert.True(t, m.Updated.Equal(first.Add(time.Hour)))
	assert.Equal(t, 7, m.Stats.Views)
}

func TestPublishWithImageGeneratesVariantsAndMirrors(t *testing.T) {
	t.Parallel()
	blobs := blobmemory.NewBlobStore()
	f := newFixture(t, WithMirror(storage.NewMirror(blobs, "", zap.NewNop())))

	up := &Upload{Filename: "Cover.PNG", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 1300, 650))}
	_, err := f.pub.Publish(context.Background(), draft(), up)
	require.NoError(t, err)

	m, err := f.store.ReadMetadata("hello-world")
	require.NoError(t, err)
	require.NotNil(t, m.Image.Featured)
	assert.Equal(t, "hello-world.png", *m.Image.Featured)

	dir := f.store.ImagesDir()
	assert.FileExists(t, filepath.Join(dir, "hello-world.png"))
	assert.True(t, imaging.SizesExist(dir, "hello-world", ".png"))

	page, err := f.store.ReadPage("hello-world")
	require.NoError(t, err)
	assert.Contains(t, string(page), "srcset=")

	assert.Contains(t, blobs.Keys(), "assets/images/articles/hello-world.png")
	assert.Contains(t, blobs.Keys(), "assets/images/articles/hello-world-1200w.png")
}

func TestPublishSmallImageIsNotUpscaled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	up := &Upload{Filename: "small.png", Body: bytes.NewReader(pngBytes(t, 500, 250))}
	_, err := f.pub.Publish(context.Background(), draft(), up)
	require.NoError(t, err)

	dir := f.store.ImagesDir()
	require.True(t, imaging.SizesExist(dir, "hello-world", ".png"))
	for _, width := range []int{600, 1200} {
		file, err := os.Open(filepath.Join(dir, imaging.VariantName("hello-world", width, ".png")))
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(file)
		require.NoError(t, file.Close())
		require.NoError(t, err)
		assert.Equal(t, 500, cfg.Width)
	}
}

func TestPublishReplacesPreviousImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pub.Publish(ctx, draft(), &Upload{Filename: "a.png", Body: bytes.NewReader(pngBytes(t, 800, 400))})
	require.NoError(t, err)
	dir := f.store.ImagesDir()
	require.FileExists(t, filepath.Join(dir, "hello-world-600w.png"))

	_, err = f.pub.Publish(ctx, draft(), &Upload{Filename: "b.gif", ContentType: "image/gif", Body: strings.NewReader("GIF89a")})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "hello-world.png"))
	assert.NoFileExists(t, filepath.Join(dir, "hello-world-600w.png"))
	assert.FileExists(t, filepath.Join(dir, "hello-world.gif"))
}

func TestPublishWithoutUploadClearsFeaturedImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pub.Publish(ctx, draft(), &Upload{Filename: "a.png", Body: bytes.NewReader(pngBytes(t, 300, 300))})
	require.NoError(t, err)
	m, err := f.store.ReadMetadata("hello-world")
	require.NoError(t, err)
	require.Equal(t, "hello-world.png", m.Image.FeaturedName())

	_, err = f.pub.Publish(ctx, draft(), nil)
	require.NoError(t, err)

	m, err = f.store.ReadMetadata("hello-world")
	require.NoError(t, err)
	assert.Nil(t, m.Image.Featured)

	idx, err := f.store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Articles, 1)
	assert.Equal(t, "hello-world.jpg", idx.Articles[0].Image, "index falls back to the slug image name")

	page, err := f.store.ReadPage("hello-world")
	require.NoError(t, err)
	assert.Contains(t, string(page), `id="image-placeholder"`)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPublishSurvivesRelocationFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []*Upload{
		{Filename: "broken.png", Body: failingReader{}},
		{Filename: "noext", ContentType: "application/octet-stream", Body: strings.NewReader("x")},
	}
	for _, up := range tests {
		_, err := f.pub.Publish(context.Background(), draft(), up)
		require.NoError(t, err)

		m, err := f.store.ReadMetadata("hello-world")
		require.NoError(t, err)
		assert.Nil(t, m.Image.Featured)
	}
	entries, err := os.ReadDir(f.store.ImagesDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	t.Parallel()
	events := pubmemory.New()
	f := newFixture(t, WithNotifier(events))
	ctx := context.Background()

	_, err := f.pub.Publish(ctx, draft(), nil)
	require.NoError(t, err)
	assert.Empty(t, events.Events())

	d := draft()
	d.NotifySubscribers = true
	res, err := f.pub.Publish(ctx, d, nil)
	require.NoError(t, err)

	got := events.Events()
	require.Len(t, got, 1)
	assert.Equal(t, publisher.ArticlePublished, got[0].Type)
	assert.Equal(t, "hello-world", got[0].Key)
	payload, ok := got[0].Payload.(publisher.ArticlePayload)
	require.True(t, ok)
	assert.Equal(t, res.URL, payload.URL)
}

func TestPublishIgnoresNotifierFailure(t *testing.T) {
	t.Parallel()
	events := pubmemory.New()
	events.FailWith(errors.New("broker down"))
	f := newFixture(t, WithNotifier(events))

	d := draft()
	d.NotifySubscribers = true
	_, err := f.pub.Publish(context.Background(), d, nil)
	require.NoError(t, err)
}

func TestRerender(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.pub.Publish(context.Background(), draft(), nil)
	require.NoError(t, err)

	_, err = f.store.UpdateMetadata("hello-world", func(m *article.Metadata) error {
		m.Title = "Renamed"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.pub.Rerender("hello-world"))

	page, err := f.store.ReadPage("hello-world")
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>Renamed")

	assert.ErrorIs(t, f.pub.Rerender("missing"), content.ErrNotFound)
}

func TestExtension(t *testing.T) {
	t.Parallel()
	tests := []struct {
		filename, contentType, want string
	}{
		{"photo.JPEG", "", ".jpeg"},
		{"photo", "image/jpeg", ".jpg"},
		{"photo", "image/webp; charset=binary", ".webp"},
		{"", "image/png", ".png"},
		{"photo", "text/plain", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(tt.filename, tt.contentType), tt.filename+"|"+tt.contentType)
	}
	assert.True(t, AllowedImageType("image/GIF"))
	assert.False(t, AllowedImageType("application/pdf"))
}
