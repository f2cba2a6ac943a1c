package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fanzone/memefeed/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_items (
	id TEXT NOT NULL,
	filter_key TEXT NOT NULL,
	author_id TEXT NOT NULL DEFAULT '',
	author_name TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	miss_count INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	reactions TEXT,
	comments TEXT,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (id, filter_key)
);

CREATE INDEX IF NOT EXISTS idx_cached_items_created ON cached_items(filter_key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cached_items_hit ON cached_items(filter_key, hit_count DESC);
CREATE INDEX IF NOT EXISTS idx_cached_items_miss ON cached_items(filter_key, miss_count DESC);
CREATE INDEX IF NOT EXISTS idx_cached_items_cached_at ON cached_items(cached_at);
`

const selectColumns = `id, filter_key, author_id, author_name, team, media_url, created_at,
	hit_count, miss_count, comment_count, reactions, comments, cached_at`

const upsertSQL = `
INSERT INTO cached_items (` + selectColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id, filter_key) DO UPDATE SET
	author_id = excluded.author_id,
	author_name = excluded.author_name,
	team = excluded.team,
	media_url = excluded.media_url,
	created_at = excluded.created_at,
	hit_count = excluded.hit_count,
	miss_count = excluded.miss_count,
	comment_count = excluded.comment_count,
	reactions = excluded.reactions,
	comments = excluded.comments,
	cached_at = excluded.cached_at
`

// SQLiteStore is the Store backed by a single SQLite database.
// All methods are safe for concurrent use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *slog.Logger

	notify    *notifier
	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for background observer errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (or creates) the cache database at path. ":memory:" gives a
// private in-memory database that lives as long as the store.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	memory := isMemoryPath(path)
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps a single in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default(),
		notify: newNotifier(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cache")
	return s, nil
}

// Close stops all observers and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Snapshot returns the partition ordered by its sort rule.
func (s *SQLiteStore) Snapshot(ctx context.Context, key model.FilterKey) ([]model.CachedEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed() {
		return nil, model.ErrClosed
	}

	query := `SELECT ` + selectColumns + ` FROM cached_items WHERE filter_key = ? ORDER BY ` + orderBy(key.SortRule())
	rows, err := s.db.QueryContext(ctx, query, string(key))
	if err != nil {
		return nil, model.WrapError(fmt.Errorf("query partition %s: %w", key, err))
	}
	defer rows.Close()

	entries := make([]model.CachedEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(fmt.Errorf("iterate partition %s: %w", key, err))
	}
	return entries, nil
}

// Insert upserts a single row.
func (s *SQLiteStore) Insert(ctx context.Context, entry model.CachedEntry) error {
	return s.InsertOrReplace(ctx, []model.CachedEntry{entry})
}

// InsertOrReplace upserts rows by (id, filterKey).
func (s *SQLiteStore) InsertOrReplace(ctx context.Context, entries []model.CachedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	keys, err := validateEntries(entries)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertAll(ctx, tx, entries)
	})
	if err != nil {
		return err
	}
	s.notify.signal(keys...)
	return nil
}

// ReplacePartition clears the partition and inserts entries atomically.
// Observers never see the partition empty in between.
func (s *SQLiteStore) ReplacePartition(ctx context.Context, key model.FilterKey, entries []model.CachedEntry) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := validateEntries(entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.FilterKey != key {
			return fmt.Errorf("%w: entry %s belongs to %s, not %s", model.ErrInvalidItem, e.ID, e.FilterKey, key)
		}
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cached_items WHERE filter_key = ?`, string(key)); err != nil {
			return fmt.Errorf("clear partition %s: %w", key, err)
		}
		return upsertAll(ctx, tx, entries)
	})
	if err != nil {
		return err
	}
	s.notify.signal(key)
	return nil
}

// ClearPartition deletes every row of one partition.
func (s *SQLiteStore) ClearPartition(ctx context.Context, key model.FilterKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM cached_items WHERE filter_key = ?`, string(key)); err != nil {
		return fmt.Errorf("clear partition %s: %w", key, err)
	}
	s.notify.signal(key)
	return nil
}

// DeleteByID removes the item from every partition.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", model.ErrInvalidItem)
	}
	n, err := s.exec(ctx, `DELETE FROM cached_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if n > 0 {
		s.notify.signal()
	}
	return nil
}

// EvictOlderThan deletes rows whose cachedAt is before cutoff.
func (s *SQLiteStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.exec(ctx, `DELETE FROM cached_items WHERE cached_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("evict before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.logger.Debug("Evicted stale cache rows", "count", n, "cutoff", cutoff)
		s.notify.signal()
	}
	return n, nil
}

// EnforceCap keeps only the top capacity rows of the partition.
func (s *SQLiteStore) EnforceCap(ctx context.Context, key model.FilterKey, capacity int) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if capacity < 0 {
		return 0, fmt.Errorf("invalid capacity %d", capacity)
	}
	query := `DELETE FROM cached_items WHERE filter_key = ? AND id NOT IN (
		SELECT id FROM cached_items WHERE filter_key = ? ORDER BY ` + orderBy(key.SortRule()) + ` LIMIT ?
	)`
	n, err := s.exec(ctx, query, string(key), string(key), capacity)
	if err != nil {
		return 0, fmt.Errorf("enforce cap on %s: %w", key, err)
	}
	if n > 0 {
		s.notify.signal(key)
	}
	return n, nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return 0, model.ErrClosed
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, model.WrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return model.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return model.WrapError(err)
	}
	if err := tx.Commit(); err != nil {
		return model.WrapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func upsertAll(ctx context.Context, tx *sql.Tx, entries []model.CachedEntry) error {
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		reactions, comments, err := encodeNested(e.ContentItem)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			e.ID, string(e.FilterKey), e.AuthorID, e.AuthorName, e.Team, e.MediaURL, e.CreatedAt,
			e.HitCount, e.MissCount, e.CommentCount, reactions, comments, e.CachedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", e.FilterKey, e.ID, err)
		}
	}
	return nil
}

func validateEntries(entries []model.CachedEntry) ([]model.FilterKey, error) {
	seen := make(map[model.FilterKey]struct{})
	keys := make([]model.FilterKey, 0, 1)
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if err := e.FilterKey.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[e.FilterKey]; !ok {
			seen[e.FilterKey] = struct{}{}
			keys = append(keys, e.FilterKey)
		}
	}
	return keys, nil
}

func orderBy(rule model.SortRule) string {
	switch rule {
	case model.SortHit:
		return "hit_count DESC, id DESC"
	case model.SortMiss:
		return "miss_count DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.CachedEntry, error) {
	var (
		e         model.CachedEntry
		filterKey string
		reactions sql.NullString
		comments  sql.NullString
		cachedAt  int64
	)
	err := row.Scan(&e.ID, &filterKey, &e.AuthorID, &e.AuthorName, &e.Team, &e.MediaURL, &e.CreatedAt,
		&e.HitCount, &e.MissCount, &e.CommentCount, &reactions, &comments, &cachedAt)
	if err != nil {
		return model.CachedEntry{}, fmt.Errorf("scan cached item: %w", err)
	}
	e.FilterKey = model.FilterKey(filterKey)
	e.CachedAt = time.UnixMilli(cachedAt)
	if err := decodeNested(&e.ContentItem, reactions, comments); err != nil {
		return model.CachedEntry{}, err
	}
	return e, nil
}

func encodeNested(it model.ContentItem) (reactions, comments sql.NullString, err error) {
	if len(it.Reactions) > 0 {
		b, err := json.Marshal(it.Reactions)
		if err != nil {
			return reactions, comments, fmt.Errorf("encode reactions of %s: %w", it.ID, err)
		}
		reactions = sql.NullString{String: string(b), Valid: true}
	}
	if len(it.Comments) > 0 {
		b, err := json.Marshal(it.Comments)
		if err != nil {
			return reactions, comments, fmt.Errorf("encode comments of %s: %w", it.ID, err)
		}
		comments = sql.NullString{String: string(b), Valid: true}
	}
	return reactions, comments, nil
}

func decodeNested(it *model.ContentItem, reactions, comments sql.NullString) error {
	if reactions.Valid && strings.TrimSpace(reactions.String) != "" {
		if err := json.Unmarshal([]byte(reactions.String), &it.Reactions); err != nil {
			return fmt.Errorf("decode reactions of %s: %w", it.ID, err)
		}
	}
	if comments.Valid && strings.TrimSpace(comments.String) != "" {
		if err := json.Unmarshal([]byte(comments.String), &it.Comments); err != nil {
			return fmt.Errorf("decode comments of %s: %w", it.ID, err)
		}
	}
	return nil
}

// isClosedErr reports whether err means the store has shut down.
func isClosedErr(err error) bool {
	return errors.Is(err, model.ErrClosed) || errors.Is(err, sql.ErrConnDone)
}
