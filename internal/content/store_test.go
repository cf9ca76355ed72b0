package content

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/article"
)

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := New(Config{RootDir: root}, fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
	require.NoError(t, err)
	return s, root
}

func seedArticle(t *testing.T, s *Store, slug string, published time.Time) article.Metadata {
	t.Helper()
	m := article.Metadata{
		ID:        slug,
		Slug:      slug,
		Title:     slug,
		Author:    article.LookupAuthor(""),
		Published: published,
		Updated:   published,
		Status:    article.StatusPublished,
		Tags:      []string{},
	}
	require.NoError(t, s.EnsureArticleDir(slug))
	require.NoError(t, s.WriteMetadata(m))
	_, err := s.UpsertIndex(article.IndexEntryFrom(m))
	require.NoError(t, err)
	return m
}

func TestNewCreatesLayout(t *testing.T) {
	t.Parallel()

	s, root := newTestStore(t)
	for _, dir := range []string{"articles", "data", filepath.Join("assets", "images", "articles")} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
	require.Equal(t, filepath.Join(root, "articles", "x"), s.ArticleDir("x"))
}

func TestNewRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, fakeClock{}, nil)
	require.Error(t, err)
}

func TestEnsureArticleDirIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureArticleDir("data-mesh"))
	require.NoError(t, s.EnsureArticleDir("data-mesh"))
	require.ErrorIs(t, s.EnsureArticleDir("../escape"), ErrInvalidSlug)
}

func TestReadIndexMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	idx, err := s.ReadIndex()
	require.NoError(t, err)
	require.Empty(t, idx.Articles)
	require.NotNil(t, idx.Articles)
}

func TestUpsertIndexPrependsAndReplaces(t *testing.T) {
	t.Parallel()

	s, root := newTestStore(t)
	replaced, err := s.UpsertIndex(article.IndexEntry{ID: "first"})
	require.NoError(t, err)
	require.False(t, replaced)
	_, err = s.UpsertIndex(article.IndexEntry{ID: "second"})
	require.NoError(t, err)
	replaced, err = s.UpsertIndex(article.IndexEntry{ID: "first", Title: "again"})
	require.NoError(t, err)
	require.True(t, replaced)

	raw, err := os.ReadFile(filepath.Join(root, "data", IndexFile))
	require.NoError(t, err)
	var idx article.Index
	require.NoError(t, json.Unmarshal(raw, &idx))
	require.Len(t, idx.Articles, 2)
	assert.Equal(t, "second", idx.Articles[0].ID)
	assert.Equal(t, "again", idx.Articles[1].Title)
}

func TestReadMetadataNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.ReadMetadata("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadMetadata("../../etc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementStat(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedArticle(t, s, "lakehouse", time.Unix(1600000000, 0).UTC())

	stats, err := s.IncrementStat("lakehouse", "views", 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Views)
	stats, err = s.IncrementStat("lakehouse", "likes", 5)
	require.NoError(t, err)
	require.Equal(t, 5, stats.Likes)

	m, err := s.ReadMetadata("lakehouse")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.Updated)

	idx, err := s.ReadIndex()
	require.NoError(t, err)
	entry, ok := idx.Find("lakehouse")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Views)
	assert.Equal(t, 5, entry.Likes)
}

func TestIncrementStatErrorsMutateNothing(t *testing.T) {
	t.Parallel()

	s, root := newTestStore(t)
	seedArticle(t, s, "lakehouse", time.Unix(1600000000, 0).UTC())
	before, err := os.ReadFile(filepath.Join(root, "articles", "lakehouse", MetadataFile))
	require.NoError(t, err)
	indexBefore, err := os.ReadFile(filepath.Join(root, "data", IndexFile))
	require.NoError(t, err)

	_, err = s.IncrementStat("nope", "views", 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.IncrementStat("lakehouse", "downloads", 1)
	require.ErrorIs(t, err, ErrInvalidStat)

	after, err := os.ReadFile(filepath.Join(root, "articles", "lakehouse", MetadataFile))
	require.NoError(t, err)
	indexAfter, err := os.ReadFile(filepath.Join(root, "data", IndexFile))
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, indexBefore, indexAfter)
	_, err = os.Stat(filepath.Join(root, "articles", "nope"))
	require.True(t, os.IsNotExist(err))
}

func TestIncrementStatConcurrent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedArticle(t, s, "busy", time.Unix(1600000000, 0).UTC())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementStat("busy", "views", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := s.ReadMetadata("busy")
	require.NoError(t, err)
	require.Equal(t, 20, m.Stats.Views)
}

func TestReindexOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	s, root := newTestStore(t)
	seedArticle(t, s, "old", time.Unix(1500000000, 0).UTC())
	seedArticle(t, s, "new", time.Unix(1600000000, 0).UTC())
	// Drift: the index gains a stale entry with no directory.
	_, err := s.UpsertIndex(article.IndexEntry{ID: "orphan"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "articles", "stray.txt"), []byte("x"), 0o600))

	n, err := s.Reindex()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	idx, err := s.ReadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Articles, 2)
	assert.Equal(t, "new", idx.Articles[0].ID)
	assert.Equal(t, "old", idx.Articles[1].ID)
}

func TestCommentsRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureArticleDir("c"))
	require.NoError(t, s.WriteComments("c", article.EmptyComments("c")))
	c, err := s.ReadComments("c")
	require.NoError(t, err)
	assert.Equal(t, "c", c.ArticleID)
	assert.Equal(t, 1000, c.Moderation.MaxLength)
	assert.Nil(t, c.Stats.LastComment)
}

func TestSaveSubscriptionUpsertsByEmail(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	at := time.Unix(1700000000, 0).UTC()
	_, err := s.SaveSubscription(Subscription{ID: "sub_1", Email: "Reader@Example.com ", Status: "active", SubscriptionDate: at})
	require.NoError(t, err)
	_, err = s.SaveSubscription(Subscription{ID: "sub_2", Email: "other@example.com", Status: "unsubscribed", SubscriptionDate: at})
	require.NoError(t, err)
	n, err := s.SaveSubscription(Subscription{ID: "sub_3", Email: "reader@example.com", Status: "active", SubscriptionDate: at.Add(time.Hour)})
	require.NoError(t, err)

	require.Len(t, n.Subscriptions, 2)
	assert.Equal(t, "sub_3", n.Subscriptions[0].ID)
	assert.Equal(t, 2, n.Stats.TotalSubscribers)
	assert.Equal(t, 1, n.Stats.ActiveSubscribers)
	require.NotNil(t, n.Stats.LastSubscription)
	assert.Equal(t, at.Add(time.Hour), *n.Stats.LastSubscription)

	loaded, err := s.ReadNewsletter()
	require.NoError(t, err)
	assert.Equal(t, n.Stats.TotalSubscribers, loaded.Stats.TotalSubscribers)
}
