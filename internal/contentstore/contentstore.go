// Package contentstore owns the content database: the ContentRecord table
// and the operation ledger (Operation + OperationStep) that records what an
// upsert or delete did and what remains to be dispatched. It is the only
// component that writes content rows; search indexes are driven off its
// ledger through the pipeline package, never written to directly by callers.
package contentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/localkb/localkb/internal/filelock"
	"github.com/localkb/localkb/internal/id"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/pipeline"
)

// Tag is one key:value pair of a ContentRecord's tag set. Comparison is
// case-insensitive on both key and value; display preserves original case.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (t Tag) String() string { return t.Key + ":" + t.Value }

// equalFold reports whether two tags match under case-insensitive compare.
func (t Tag) equalFold(o Tag) bool {
	return strings.EqualFold(t.Key, o.Key) && strings.EqualFold(t.Value, o.Value)
}

// ContentRecord is the user's unit of knowledge.
type ContentRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	MimeType    string    `json:"mimeType"`
	Tags        []Tag     `json:"tags"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpsertRequest is the caller-supplied payload for Store.Upsert.
type UpsertRequest struct {
	ID          string // empty = assign a new id
	Title       string
	Description string
	Content     string
	MimeType    string
	Tags        []Tag
	SourceURL   string
}

// UpsertResult mirrors the CLI's `put` JSON output contract.
type UpsertResult struct {
	ID        string `json:"id"`
	Queued    bool   `json:"queued"`
	Completed bool   `json:"completed"`
	Error     string `json:"error"`
}

// IndexDescriptor is the minimal shape the content store needs from a
// node's configured search index to build planned_steps and dispatch them;
// it deliberately knows nothing about FTS vs. vector internals.
type IndexDescriptor struct {
	ID       string
	Required bool
}

const (
	kindUpsert = "upsert"
	kindDelete = "delete"

	stepStatusPending   = "pending"
	stepStatusRunning   = "running"
	stepStatusCompleted = "completed"
	stepStatusFailed    = "failed"
)

// Store is the content database for one node.
type Store struct {
	db   *sql.DB
	lock *filelock.Lock
}

// Open opens (creating if absent) the content database at path and applies
// its schema. WAL mode matches the rest of the engine's sqlite-backed
// components so content writes don't block concurrent search reads.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "content store path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to create content store directory")
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to open content database")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to configure content database")
		}
	}

	s := &Store{db: db, lock: filelock.New(path)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS content_records (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		source_url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		operation_id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		planned_steps TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operation_steps (
		operation_id TEXT NOT NULL,
		step_token TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (operation_id, step_token)
	);

	CREATE INDEX IF NOT EXISTS idx_operation_steps_operation ON operation_steps(operation_id);
	CREATE INDEX IF NOT EXISTS idx_content_records_created_at ON content_records(created_at DESC, id ASC);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to initialize content store schema")
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func plannedSteps(kind string, descriptors []IndexDescriptor) []pipeline.Step {
	steps := make([]pipeline.Step, 0, len(descriptors)+1)
	steps = append(steps, pipeline.Step{Token: kind})
	suffix := ""
	if kind == kindDelete {
		suffix = ":delete"
	}
	for _, d := range descriptors {
		steps = append(steps, pipeline.Step{Token: fmt.Sprintf("index:%s%s", d.ID, suffix), Required: d.Required})
	}
	return steps
}

func tokensOf(steps []pipeline.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Token
	}
	return out
}

// Upsert writes req as a new or updated ContentRecord and dispatches the
// resulting operation's steps synchronously, per §4.7/§4.8: the content row
// and the operation ledger are written in one transaction (so the storage
// step is already satisfied when the pipeline runs), then every configured
// index's step is executed in declared order via registry.
func (s *Store) Upsert(ctx context.Context, req UpsertRequest, descriptors []IndexDescriptor, registry *pipeline.Registry) (*UpsertResult, error) {
	now := time.Now().UTC()
	recordID := req.ID
	createdAt := now
	if recordID == "" {
		recordID = id.New()
	} else if existing, ok, err := s.getRecord(ctx, s.db, recordID); err != nil {
		return nil, err
	} else if ok {
		createdAt = existing.CreatedAt
	}

	tagsJSON, err := json.Marshal(normalizeTags(req.Tags))
	if err != nil {
		return nil, kberrors.Wrap(kberrors.InvalidArgument, err, "failed to encode tags")
	}

	opID := id.New()
	steps := plannedSteps(kindUpsert, descriptors)

	if err := s.lock.Lock(); err != nil {
		return nil, err
	}
	defer func() { _ = s.lock.Unlock() }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO content_records (id, title, description, content, mime_type, tags, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, content=excluded.content,
			mime_type=excluded.mime_type, tags=excluded.tags, source_url=excluded.source_url,
			updated_at=excluded.updated_at`,
		recordID, req.Title, req.Description, req.Content, req.MimeType, string(tagsJSON), req.SourceURL,
		// Fixed-width fractional seconds keep the text column sortable.
		createdAt.Format("2006-01-02T15:04:05.000000000Z07:00"), now.Format("2006-01-02T15:04:05.000000000Z07:00"))
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to write content record")
	}

	plannedJSON, err := json.Marshal(tokensOf(steps))
	if err != nil {
		return nil, kberrors.Wrap(kberrors.InvalidArgument, err, "failed to encode planned steps")
	}
	if err := s.insertOperation(ctx, tx, opID, recordID, kindUpsert, plannedJSON, steps, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to commit upsert")
	}

	// The storage step is already satisfied by the transaction above.
	_ = s.MarkCompleted(ctx, opID, kindUpsert)

	fields := pipeline.Fields{Title: req.Title, Description: req.Description, Content: req.Content}
	indexSteps := steps[1:]
	result := pipeline.Drive(ctx, registry, s, opID, recordID, fields, indexSteps)

	return &UpsertResult{
		ID:        recordID,
		Queued:    !result.Completed,
		Completed: result.Completed,
		Error:     result.Error,
	}, nil
}

// Delete removes a ContentRecord and dispatches the matching delete steps.
// Idempotent: deleting an absent id still reports success.
func (s *Store) Delete(ctx context.Context, contentID string, descriptors []IndexDescriptor, registry *pipeline.Registry) (*UpsertResult, error) {
	now := time.Now().UTC()
	opID := id.New()
	steps := plannedSteps(kindDelete, descriptors)

	if err := s.lock.Lock(); err != nil {
		return nil, err
	}
	defer func() { _ = s.lock.Unlock() }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_records WHERE id = ?`, contentID); err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to delete content record")
	}

	plannedJSON, err := json.Marshal(tokensOf(steps))
	if err != nil {
		return nil, kberrors.Wrap(kberrors.InvalidArgument, err, "failed to encode planned steps")
	}
	if err := s.insertOperation(ctx, tx, opID, contentID, kindDelete, plannedJSON, steps, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to commit delete")
	}
	_ = s.MarkCompleted(ctx, opID, kindDelete)

	result := pipeline.Drive(ctx, registry, s, opID, contentID, pipeline.Fields{}, steps[1:])
	return &UpsertResult{
		ID:        contentID,
		Queued:    !result.Completed,
		Completed: result.Completed,
		Error:     result.Error,
	}, nil
}

func (s *Store) insertOperation(ctx context.Context, tx *sql.Tx, opID, contentID, kind string, plannedJSON []byte, steps []pipeline.Step, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operations (operation_id, content_id, kind, planned_steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		opID, contentID, kind, string(plannedJSON), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to write operation")
	}

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operation_steps (operation_id, step_token, status, attempts, last_error)
			VALUES (?, ?, ?, 0, '')`, opID, step.Token, stepStatusPending); err != nil {
			return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to write operation step")
		}
	}
	return nil
}

// Get returns the ContentRecord for id, or NotFound.
func (s *Store) Get(ctx context.Context, contentID string) (*ContentRecord, error) {
	rec, ok, err := s.getRecord(ctx, s.db, contentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kberrors.Newf(kberrors.NotFound, "content %q not found", contentID)
	}
	return rec, nil
}

func (s *Store) getRecord(ctx context.Context, q queryer, contentID string) (*ContentRecord, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, description, content, mime_type, tags, source_url, created_at, updated_at
		FROM content_records WHERE id = ?`, contentID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to read content record")
	}
	return rec, true, nil
}

// List returns a deterministic page ordered by created_at descending, then
// id ascending.
func (s *Store) List(ctx context.Context, skip, take int) ([]*ContentRecord, error) {
	if take <= 0 {
		take = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, content, mime_type, tags, source_url, created_at, updated_at
		FROM content_records
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`, take, skip)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to list content records")
	}
	defer rows.Close()

	var out []*ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to scan content record")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRecord(row scanner) (*ContentRecord, error) {
	var rec ContentRecord
	var tagsJSON, createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Content, &rec.MimeType,
		&tagsJSON, &rec.SourceURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags column: %w", err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// normalizeTags deduplicates tags by case-insensitive (key, value), keeping
// the first occurrence's casing and original order.
func normalizeTags(tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		dup := false
		for _, seen := range out {
			if seen.equalFold(t) {
				dup = true
				break
			}
		}
		if !dup && t.Value != "" {
			out = append(out, t)
		}
	}
	return out
}

// --- pipeline.StatusStore ---

var _ pipeline.StatusStore = (*Store)(nil)

func (s *Store) MarkRunning(ctx context.Context, operationID, stepToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operation_steps SET status = ?, attempts = attempts + 1
		WHERE operation_id = ? AND step_token = ?`, stepStatusRunning, operationID, stepToken)
	return err
}

func (s *Store) MarkCompleted(ctx context.Context, operationID, stepToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operation_steps SET status = ?, last_error = ''
		WHERE operation_id = ? AND step_token = ?`, stepStatusCompleted, operationID, stepToken)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, operationID, stepToken, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operation_steps SET status = ?, last_error = ?
		WHERE operation_id = ? AND step_token = ?`, stepStatusFailed, errMsg, operationID, stepToken)
	return err
}

// OperationStatus reports an operation's ledger state: the steps not yet
// completed, in declared order, for driving a retry.
func (s *Store) OperationStatus(ctx context.Context, operationID string) (kind string, pending []pipeline.Step, err error) {
	var plannedJSON string
	row := s.db.QueryRowContext(ctx, `SELECT kind, planned_steps FROM operations WHERE operation_id = ?`, operationID)
	if scanErr := row.Scan(&kind, &plannedJSON); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", nil, kberrors.Newf(kberrors.NotFound, "operation %q not found", operationID)
		}
		return "", nil, kberrors.Wrap(kberrors.IndexUnavailable, scanErr, "failed to read operation")
	}

	var tokens []string
	if jsonErr := json.Unmarshal([]byte(plannedJSON), &tokens); jsonErr != nil {
		return "", nil, fmt.Errorf("corrupt planned_steps column: %w", jsonErr)
	}

	rows, queryErr := s.db.QueryContext(ctx, `
		SELECT step_token, status FROM operation_steps WHERE operation_id = ?`, operationID)
	if queryErr != nil {
		return "", nil, kberrors.Wrap(kberrors.IndexUnavailable, queryErr, "failed to read operation steps")
	}
	defer rows.Close()

	statuses := make(map[string]string, len(tokens))
	for rows.Next() {
		var token, status string
		if scanErr := rows.Scan(&token, &status); scanErr != nil {
			return "", nil, scanErr
		}
		statuses[token] = status
	}

	for _, token := range tokens {
		if statuses[token] != stepStatusCompleted {
			pending = append(pending, pipeline.Step{Token: token})
		}
	}
	return kind, pending, rows.Err()
}
