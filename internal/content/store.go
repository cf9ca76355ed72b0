// Package content implements the on-disk content store: one directory per
// article plus the aggregate index and the newsletter file under data/.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/article"
)

// File names inside an article directory and under data/.
const (
	PageFile       = "index.html"
	MetadataFile   = "metadata.json"
	CommentsFile   = "comments.json"
	IndexFile      = "articles.json"
	NewsletterFile = "newsletter.json"
)

var (
	// ErrNotFound is returned when an article directory or metadata file is missing.
	ErrNotFound = errors.New("article not found")
	// ErrInvalidStat is returned for a counter name outside article.StatTypes.
	ErrInvalidStat = errors.New("invalid stat type")
	// ErrInvalidSlug is returned for identifiers that cannot name a directory.
	ErrInvalidSlug = errors.New("invalid slug")

	validSlug = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Clock supplies timestamps for the updated field.
type Clock interface {
	Now() time.Time
}

// Config locates the content tree. Relative sub-directories resolve against RootDir.
type Config struct {
	RootDir     string `mapstructure:"root_dir"`
	ArticlesDir string `mapstructure:"articles_dir"`
	DataDir     string `mapstructure:"data_dir"`
	ImagesDir   string `mapstructure:"images_dir"`
}

// Store reads and writes the content tree. Read-modify-write cycles on the
// index, metadata and newsletter files are serialized within the process.
type Store struct {
	rootDir     string
	articlesDir string
	dataDir     string
	imagesDir   string
	clock       Clock
	logger      *zap.Logger

	mu sync.Mutex
}

// New creates a Store, creating the articles, data and images directories if needed.
func New(cfg Config, clock Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.RootDir) == "" {
		return nil, fmt.Errorf("content root directory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		rootDir:     cfg.RootDir,
		articlesDir: resolve(cfg.RootDir, cfg.ArticlesDir, "articles"),
		dataDir:     resolve(cfg.RootDir, cfg.DataDir, "data"),
		imagesDir:   resolve(cfg.RootDir, cfg.ImagesDir, filepath.Join("assets", "images", "articles")),
		clock:       clock,
		logger:      logger,
	}
	for _, dir := range []string{s.articlesDir, s.dataDir, s.imagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create content directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func resolve(root, dir, def string) string {
	if dir == "" {
		dir = def
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// ValidSlug reports whether slug can safely name an article directory.
func ValidSlug(slug string) bool {
	return validSlug.MatchString(slug)
}

// RootDir returns the content root.
func (s *Store) RootDir() string { return s.rootDir }

// ArticlesDir returns the directory holding one sub-directory per article.
func (s *Store) ArticlesDir() string { return s.articlesDir }

// DataDir returns the directory holding articles.json and newsletter.json.
func (s *Store) DataDir() string { return s.dataDir }

// ImagesDir returns the shared featured-image directory.
func (s *Store) ImagesDir() string { return s.imagesDir }

// ArticleDir returns the directory for slug without touching the filesystem.
func (s *Store) ArticleDir(slug string) string {
	return filepath.Join(s.articlesDir, slug)
}

// EnsureArticleDir creates the article directory. It succeeds if it already exists.
func (s *Store) EnsureArticleDir(slug string) error {
	if !ValidSlug(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if err := os.MkdirAll(s.ArticleDir(slug), 0o755); err != nil {
		return fmt.Errorf("create article directory: %w", err)
	}
	return nil
}

// WritePage writes the rendered index.html for slug.
func (s *Store) WritePage(slug string, page []byte) error {
	if err := writeFileAtomic(filepath.Join(s.ArticleDir(slug), PageFile), page); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	return nil
}

// ReadPage returns the rendered index.html for slug.
func (s *Store) ReadPage(slug string) ([]byte, error) {
	if !ValidSlug(slug) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.ArticleDir(slug), PageFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return data, nil
}

// WriteMetadata writes metadata.json for m.Slug.
func (s *Store) WriteMetadata(m article.Metadata) error {
	if err := writeJSON(filepath.Join(s.ArticleDir(m.Slug), MetadataFile), m); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads metadata.json for slug. Missing files yield ErrNotFound.
func (s *Store) ReadMetadata(slug string) (article.Metadata, error) {
	var m article.Metadata
	if !ValidSlug(slug) {
		return m, ErrNotFound
	}
	if err := readJSON(filepath.Join(s.ArticleDir(slug), MetadataFile), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, ErrNotFound
		}
		return m, fmt.Errorf("read metadata: %w", err)
	}
	return m, nil
}

// WriteComments overwrites comments.json for slug.
func (s *Store) WriteComments(slug string, c article.Comments) error {
	if err := writeJSON(filepath.Join(s.ArticleDir(slug), CommentsFile), c); err != nil {
		return fmt.Errorf("write comments: %w", err)
	}
	return nil
}

// ReadComments loads comments.json for slug.
func (s *Store) ReadComments(slug string) (article.Comments, error) {
	var c article.Comments
	if !ValidSlug(slug) {
		return c, ErrNotFound
	}
	if err := readJSON(filepath.Join(s.ArticleDir(slug), CommentsFile), &c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, ErrNotFound
		}
		return c, fmt.Errorf("read comments: %w", err)
	}
	return c, nil
}

// ReadIndex loads data/articles.json. A missing file is an empty index.
func (s *Store) ReadIndex() (article.Index, error) {
	idx := article.Index{Articles: []article.IndexEntry{}}
	if err := readJSON(filepath.Join(s.dataDir, IndexFile), &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return idx, fmt.Errorf("read index: %w", err)
	}
	if idx.Articles == nil {
		idx.Articles = []article.IndexEntry{}
	}
	return idx, nil
}

func (s *Store) writeIndex(idx article.Index) error {
	if err := writeJSON(filepath.Join(s.dataDir, IndexFile), idx); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// UpsertIndex replaces the index entry with the same id in place, or prepends it.
func (s *Store) UpsertIndex(e article.IndexEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertIndexLocked(e)
}

func (s *Store) upsertIndexLocked(e article.IndexEntry) (bool, error) {
	idx, err := s.ReadIndex()
	if err != nil {
		return false, err
	}
	replaced := idx.Upsert(e)
	if err := s.writeIndex(idx); err != nil {
		return false, err
	}
	return replaced, nil
}

// ListSlugs returns every article directory that holds a metadata.json, sorted.
func (s *Store) ListSlugs() ([]string, error) {
	entries, err := os.ReadDir(s.articlesDir)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.articlesDir, e.Name(), MetadataFile)); err == nil {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// ListMetadata loads every article's metadata. Unreadable records are logged and skipped.
func (s *Store) ListMetadata() ([]article.Metadata, error) {
	slugs, err := s.ListSlugs()
	if err != nil {
		return nil, err
	}
	out := make([]article.Metadata, 0, len(slugs))
	for _, slug := range slugs {
		m, err := s.ReadMetadata(slug)
		if err != nil {
			s.logger.Warn("skipping unreadable metadata", zap.String("slug", slug), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// UpdateMetadata applies fn to the stored record, bumps updated, writes it back
// and refreshes the derived index entry. Nothing is written if fn fails.
func (s *Store) UpdateMetadata(slug string, fn func(*article.Metadata) error) (article.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.ReadMetadata(slug)
	if err != nil {
		return m, err
	}
	if err := fn(&m); err != nil {
		return m, err
	}
	m.Updated = s.clock.Now()
	if err := s.WriteMetadata(m); err != nil {
		return m, err
	}
	if _, err := s.upsertIndexLocked(article.IndexEntryFrom(m)); err != nil {
		return m, err
	}
	return m, nil
}

// IncrementStat adds delta to the named counter of slug and returns the new stats.
// A missing article yields ErrNotFound and an unknown counter ErrInvalidStat;
// neither writes anything.
func (s *Store) IncrementStat(slug, stat string, delta int) (article.Stats, error) {
	m, err := s.UpdateMetadata(slug, func(m *article.Metadata) error {
		if !m.Stats.Increment(stat, delta) {
			return fmt.Errorf("%w: %q", ErrInvalidStat, stat)
		}
		return nil
	})
	if err != nil {
		return article.Stats{}, err
	}
	return m.Stats, nil
}

// Reindex rebuilds data/articles.json from every metadata.json, newest first.
func (s *Store) Reindex() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.ListMetadata()
	if err != nil {
		return 0, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Published.After(records[j].Published)
	})
	idx := article.Index{Articles: make([]article.IndexEntry, 0, len(records))}
	for _, m := range records {
		idx.Articles = append(idx.Articles, article.IndexEntryFrom(m))
	}
	if err := s.writeIndex(idx); err != nil {
		return 0, err
	}
	return len(idx.Articles), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // paths are built from validated slugs
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes through a temp file in the same directory so readers
// never observe a truncated document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
