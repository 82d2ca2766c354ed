// Package ftsindex is the lexical half of the engine's hybrid search: a
// stemmed, field-aware, BM25-ranked inverted index over a content record's
// title, description and content, built on SQLite's FTS5 virtual tables via
// the pure-Go modernc.org/sqlite driver (no CGO, so the engine ships as a
// static binary).
package ftsindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/localkb/localkb/internal/filelock"
	"github.com/localkb/localkb/internal/kberrors"
)

// DefaultSnippetLength bounds a returned snippet, in runes.
const DefaultSnippetLength = 200

const (
	snippetEllipsis  = "…"
	snippetMarkStart = "<mark>"
	snippetMarkEnd   = "</mark>"

	// MinRelevance is the regression guarantee: any non-trivial match's
	// normalized score is at least this value.
	MinRelevance = 0.3
)

// Result is one ranked hit.
type Result struct {
	ContentID string
	Score     float64 // normalized to [MinRelevance, 1.0]
	Snippet   string
}

// Index is a per-node FTS5 index over one backing file.
type Index struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	stemming bool
	closed   bool
	lock     *filelock.Lock
}

// Open creates or opens the FTS5 index at path. Stemming controls whether
// the Porter stemmer wraps the tokenizer; this is fixed at schema creation
// time for an index file, per §4.2 ("stemming on by default").
func Open(path string, stemming bool) (*Index, error) {
	if path == "" {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "fts index path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to create fts index directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to open fts index")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to configure fts index")
		}
	}

	idx := &Index{db: db, path: path, stemming: stemming, lock: filelock.New(path)}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	tokenizer := "unicode61"
	if idx.stemming {
		tokenizer = "porter unicode61"
	}
	schema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entries USING fts5(
			content_id UNINDEXED,
			title,
			description,
			content,
			tokenize='%s'
		);
	`, tokenizer)
	if _, err := idx.db.Exec(schema); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to initialize fts schema")
	}
	return nil
}

// Close checkpoints and closes the backing file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	_, _ = idx.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return idx.db.Close()
}

// Index upserts one content record's text. Existing rows for contentID are
// replaced atomically (delete-then-insert in one transaction); empty
// strings are accepted and produce no matchable tokens.
func (idx *Index) Index(ctx context.Context, contentID, title, description, content string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "fts index is closed")
	}
	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to begin fts transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE content_id = ?`, contentID); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to clear existing fts entry")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO entries (content_id, title, description, content) VALUES (?, ?, ?, ?)`,
		contentID, title, description, content); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to write fts entry")
	}
	if err := tx.Commit(); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to commit fts entry")
	}
	return nil
}

// Remove deletes contentID's entry; idempotent.
func (idx *Index) Remove(ctx context.Context, contentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "fts index is closed")
	}
	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM entries WHERE content_id = ?`, contentID)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to remove fts entry")
	}
	return nil
}

// Clear drops all rows, preserving schema.
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return kberrors.New(kberrors.IndexUnavailable, "fts index is closed")
	}
	if err := idx.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = idx.lock.Unlock() }()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to clear fts index")
	}
	return nil
}

type rawHit struct {
	contentID string
	rank      float64
	snippet   string
}

// Search runs rawQuery (an FTS5 MATCH expression, produced by the query
// extractor) and returns up to limit hits ordered by normalized score
// descending, ties broken by content_id ascending. An empty query returns
// an empty result, not an error.
func (idx *Index) Search(ctx context.Context, rawQuery string, limit int) ([]Result, error) {
	if strings.TrimSpace(rawQuery) == "" {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, kberrors.New(kberrors.IndexUnavailable, "fts index is closed")
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT content_id, bm25(entries) AS rank,
			snippet(entries, -1, ?, ?, ?, 32) AS snip
		FROM entries
		WHERE entries MATCH ?
		ORDER BY rank, content_id
		LIMIT ?`, snippetMarkStart, snippetMarkEnd, snippetEllipsis, rawQuery, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, kberrors.Wrap(kberrors.QuerySyntaxError, err, "invalid fts query")
		}
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "fts search failed")
	}
	defer rows.Close()

	var hits []rawHit
	for rows.Next() {
		var h rawHit
		if err := rows.Scan(&h.contentID, &h.rank, &h.snippet); err != nil {
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to scan fts hit")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "fts search failed")
	}
	if len(hits) == 0 {
		return nil, nil
	}

	return normalize(hits), nil
}

// normalize maps raw (negative, near-zero) bm25 ranks into [MinRelevance, 1.0],
// order-preserving, sending the best document in the set to 1.0. See
// DESIGN.md for why this concrete min-max form was chosen over the
// spec-suggested `1/(1+|rank|)` shape: that formula alone is inverted with
// respect to bm25's sign convention (larger |rank| is the better match, so
// 1/(1+|rank|) decreases as relevance increases) and needs exactly this
// kind of rescaling to satisfy the ordering and floor requirements; this
// implementation folds both into one step.
func normalize(hits []rawHit) []Result {
	out := make([]Result, len(hits))
	if len(hits) == 1 {
		out[0] = Result{ContentID: hits[0].contentID, Score: 1.0, Snippet: clipSnippet(hits[0].snippet)}
		return out
	}

	min, max := absF(hits[0].rank), absF(hits[0].rank)
	for _, h := range hits {
		abs := absF(h.rank)
		if abs < min {
			min = abs
		}
		if abs > max {
			max = abs
		}
	}

	for i, h := range hits {
		abs := absF(h.rank)
		var score float64
		if max == min {
			score = 1.0
		} else {
			score = MinRelevance + (1.0-MinRelevance)*(abs-min)/(max-min)
		}
		out[i] = Result{ContentID: h.contentID, Score: score, Snippet: clipSnippet(h.snippet)}
	}
	return out
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// clipSnippet bounds a snippet to DefaultSnippetLength runes without
// splitting a highlight tag, appending the ellipsis when truncated further.
func clipSnippet(s string) string {
	runes := []rune(s)
	if len(runes) <= DefaultSnippetLength {
		return s
	}
	cut := string(runes[:DefaultSnippetLength])
	if open := strings.LastIndex(cut, "<"); open >= 0 && !strings.Contains(cut[open:], ">") {
		cut = cut[:open]
	}
	return cut + snippetEllipsis
}
