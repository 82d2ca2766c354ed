// Package vectorindex is the dense half of the engine's hybrid search: a
// brute-force cosine-similarity index over unit-norm embedding vectors,
// backed by a SQLite blob table via modernc.org/sqlite. It consumes an
// embedgen.Generator for turning text into vectors and an embedcache.Cache
// to avoid re-embedding unchanged content.
package vectorindex

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/localkb/localkb/internal/embedcache"
	"github.com/localkb/localkb/internal/embedgen"
	"github.com/localkb/localkb/internal/filelock"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/vecmath"
)

// Result is one ranked hit; Score is cosine similarity in [-1, 1].
type Result struct {
	ContentID string
	Score     float64
}

// Config constructs an Index.
type Config struct {
	Path         string
	Dimensions   int
	Generator    embedgen.Generator
	Cache        *embedcache.Cache // may be nil, equivalent to Off mode
	Provider     string
	Model        string
	UseSqliteVec bool
	Logger       *slog.Logger
}

// Index is a per-node vector index over one backing file.
type Index struct {
	mu         sync.RWMutex
	db         *sql.DB
	dimensions int
	generator  embedgen.Generator
	cache      *embedcache.Cache
	provider   string
	model      string
	logger     *slog.Logger
	closed     bool
	lock       *filelock.Lock
}

// Open creates or opens the vector index at cfg.Path.
func Open(cfg Config) (*Index, error) {
	if cfg.Path == "" {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "vector index path must not be empty")
	}
	if cfg.Dimensions <= 0 {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "vector index dimensions must be positive")
	}
	if cfg.Generator == nil {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "vector index requires a generator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to create vector index directory")
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to open vector index")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to configure vector index")
		}
	}

	idx := &Index{
		db: db, dimensions: cfg.Dimensions, generator: cfg.Generator, cache: cfg.Cache,
		provider: cfg.Provider, model: cfg.Model, logger: logger, lock: filelock.New(cfg.Path),
	}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.UseSqliteVec {
		idx.probeSqliteVec()
	}

	return idx, nil
}

func (idx *Index) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS vectors (
			content_id TEXT PRIMARY KEY,
			vector BLOB NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to initialize vector schema")
	}
	return nil
}

// probeSqliteVec attempts to load the sqlite-vec extension. modernc.org/sqlite
// is a pure-Go build with no dlopen support, so this always fails; per
// §4.3 that failure degrades to the pure implementation with a logged
// warning rather than an error, which is what this does.
func (idx *Index) probeSqliteVec() {
	_, err := idx.db.Exec(`SELECT vec_version()`)
	if err != nil {
		idx.logger.Warn("sqlite-vec extension unavailable, using pure-Go vector search",
			slog.String("path", "vector_index"), slog.String("error", err.Error()))
	}
}

// Close closes the backing file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.db.Close()
}

// embed resolves text to a raw vector via the cache, falling back to the
// generator on a miss. The cache reports no errors, so it never fails the call.
func (idx *Index) embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := idx.cache.Get(idx.provider, idx.model, text); ok {
		return v, nil
	}

	v, err := idx.generator.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	idx.cache.Put(idx.provider, idx.model, text, v)
	return v, nil
}

// Index embeds text and upserts its normalized vector for contentID. If the
// generated vector's length does not match the index's declared
// dimensions, the call fails with DimensionMismatch.
func (idx *Index) Index(ctx context.Context, contentID, text string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "vector index is closed")
	}

	raw, err := idx.embed(ctx, text)
	if err != nil {
		return err
	}
	if len(raw) != idx.dimensions {
		return kberrors.NewDimensionMismatch(idx.dimensions, len(raw))
	}

	normalized, err := vecmath.Normalize(raw)
	if err != nil {
		return err
	}
	blob := vecmath.ToBlob(normalized)

	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO vectors (content_id, vector, provider, model) VALUES (?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET vector = excluded.vector, provider = excluded.provider, model = excluded.model`,
		contentID, blob, idx.provider, idx.model)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to write vector entry")
	}
	return nil
}

// Remove deletes contentID's entry; idempotent.
func (idx *Index) Remove(ctx context.Context, contentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "vector index is closed")
	}
	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM vectors WHERE content_id = ?`, contentID)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to remove vector entry")
	}
	return nil
}

// Clear drops all rows.
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "vector index is closed")
	}
	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM vectors`)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to clear vector index")
	}
	return nil
}

// Search embeds queryText, then scores every stored vector by dot product
// (cosine similarity, since both sides are unit-norm), returning the top
// limit hits descending by score, ties broken by content_id ascending.
func (idx *Index) Search(ctx context.Context, queryText string, limit int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, kberrors.New(kberrors.IndexUnavailable, "vector index is closed")
	}

	raw, err := idx.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	if len(raw) != idx.dimensions {
		return nil, kberrors.NewDimensionMismatch(idx.dimensions, len(raw))
	}
	query, kerr := vecmath.Normalize(raw)
	if kerr != nil {
		return nil, kerr
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT content_id, vector FROM vectors ORDER BY content_id ASC`)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "vector search failed")
	}
	defer rows.Close()

	var hits []Result
	for rows.Next() {
		var contentID string
		var blob []byte
		if err := rows.Scan(&contentID, &blob); err != nil {
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to scan vector entry")
		}
		stored, kerr := vecmath.FromBlob(blob)
		if kerr != nil {
			idx.logger.Warn("skipping corrupt vector entry", slog.String("content_id", contentID), slog.String("error", kerr.Error()))
			continue
		}
		score, kerr := vecmath.Dot(query, stored)
		if kerr != nil {
			idx.logger.Warn("skipping vector entry with mismatched dimensions", slog.String("content_id", contentID))
			continue
		}
		hits = append(hits, Result{ContentID: contentID, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "vector search failed")
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ContentID < hits[j].ContentID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
