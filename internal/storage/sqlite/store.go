// Package sqlite provides the SQLite implementation of storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/storyforge/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore opens the database at dsn, recovering once from stale WAL files
// left by a crashed process.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	store, err := openStore(dsn, logger)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath, logger)

	store, retryErr := openStore(dsn, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	logger.Warn("recovered from stale WAL files", zap.String("path", dbPath))
	return store, nil
}

func openStore(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; WAL lets readers proceed meanwhile.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close checkpoints the WAL and releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint on close failed", zap.Error(err))
	}
	return s.db.Close()
}

// UpsertUsageSnapshot implements storage.UsageStore.
func (s *Store) UpsertUsageSnapshot(ctx context.Context, snap *storage.UsageSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (session_id, total_cost, requests, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			total_cost = excluded.total_cost,
			requests = excluded.requests,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		snap.SessionID, snap.TotalCost, snap.Requests, string(snap.Data), snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert usage snapshot: %w", err)
	}
	return nil
}

// GetUsageSnapshot implements storage.UsageStore.
func (s *Store) GetUsageSnapshot(ctx context.Context, sessionID string) (*storage.UsageSnapshot, error) {
	var snap storage.UsageSnapshot
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, total_cost, requests, data, updated_at
		FROM usage_snapshots WHERE session_id = ?`, sessionID).
		Scan(&snap.SessionID, &snap.TotalCost, &snap.Requests, &data, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get usage snapshot: %w", err)
	}
	snap.Data = []byte(data)
	return &snap, nil
}

// ListLoreEntries implements storage.LoreStore.
func (s *Store) ListLoreEntries(ctx context.Context, sessionID string, limit int) ([]*storage.LoreEntry, error) {
	if limit <= 0 || limit > storage.MaxLoreEntries {
		limit = storage.MaxLoreEntries
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, title, content, entry_type, tags, importance, created_at, updated_at
		FROM lore_entries
		WHERE session_id = ?
		ORDER BY importance DESC, created_at ASC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list lore entries: %w", err)
	}
	defer rows.Close()

	var out []*storage.LoreEntry
	for rows.Next() {
		var e storage.LoreEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Title, &e.Content, &e.EntryType, &tags, &e.Importance, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan lore entry: %w", err)
		}
		e.Tags = decodeStrings(tags)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveLoreEntry implements storage.LoreStore.
func (s *Store) SaveLoreEntry(ctx context.Context, entry *storage.LoreEntry) error {
	if entry == nil || entry.SessionID == "" || entry.Title == "" {
		return fmt.Errorf("%w: lore entry needs session id and title", storage.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lore_entries WHERE id = ?`, entry.ID).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: check lore entry: %w", err)
	}
	if exists == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lore_entries WHERE session_id = ?`, entry.SessionID).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: count lore entries: %w", err)
		}
		if count >= storage.MaxLoreEntries {
			return storage.ErrLoreCapacity
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lore_entries (id, session_id, title, content, entry_type, tags, importance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			entry_type = excluded.entry_type,
			tags = excluded.tags,
			importance = excluded.importance,
			updated_at = excluded.updated_at`,
		entry.ID, entry.SessionID, entry.Title, entry.Content, entry.EntryType,
		encodeStrings(entry.Tags), entry.Importance, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save lore entry: %w", err)
	}
	return tx.Commit()
}

// DeleteLoreEntry implements storage.LoreStore.
func (s *Store) DeleteLoreEntry(ctx context.Context, sessionID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lore_entries WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete lore entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertIntensityAudit implements storage.AuditStore.
func (s *Store) InsertIntensityAudit(ctx context.Context, rec *storage.IntensityAudit) error {
	if rec == nil || rec.Dimension == "" {
		return fmt.Errorf("%w: audit record needs a dimension", storage.ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intensity_audit (id, session_id, dimension, expected, actual, excerpt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Dimension, rec.Expected, rec.Actual, rec.Excerpt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert intensity audit: %w", err)
	}
	return nil
}

// ListIntensityAudits implements storage.AuditStore.
func (s *Store) ListIntensityAudits(ctx context.Context, sessionID string) ([]*storage.IntensityAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, dimension, expected, actual, excerpt, created_at
		FROM intensity_audit WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list intensity audits: %w", err)
	}
	defer rows.Close()

	var out []*storage.IntensityAudit
	for rows.Next() {
		var r storage.IntensityAudit
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Dimension, &r.Expected, &r.Actual, &r.Excerpt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan intensity audit: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// RecordSFX implements storage.SFXCacheStore.
func (s *Store) RecordSFX(ctx context.Context, e *storage.SFXCacheEntry) error {
	if e == nil || e.CacheKey == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sfx_cache (cache_key, prompt, duration_seconds, is_loop, file_path, size_bytes, hit_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			hit_count = sfx_cache.hit_count + 1,
			last_used_at = excluded.last_used_at`,
		e.CacheKey, e.Prompt, e.DurationSeconds, e.Loop, e.FilePath, e.SizeBytes, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: record sfx: %w", err)
	}
	return nil
}

// GetSFX implements storage.SFXCacheStore.
func (s *Store) GetSFX(ctx context.Context, cacheKey string) (*storage.SFXCacheEntry, error) {
	var e storage.SFXCacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, prompt, duration_seconds, is_loop, file_path, size_bytes, hit_count, created_at, last_used_at
		FROM sfx_cache WHERE cache_key = ?`, cacheKey).
		Scan(&e.CacheKey, &e.Prompt, &e.DurationSeconds, &e.Loop, &e.FilePath, &e.SizeBytes, &e.HitCount, &e.CreatedAt, &e.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get sfx: %w", err)
	}
	return &e, nil
}

// UpsertVoice implements storage.VoiceStore.
func (s *Store) UpsertVoice(ctx context.Context, v *storage.Voice) error {
	if v == nil || v.VoiceID == "" || v.Provider == "" {
		return fmt.Errorf("%w: voice needs id and provider", storage.ErrInvalidInput)
	}
	v.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voices (voice_id, provider, name, gender, age, accent, description, labels, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, voice_id) DO UPDATE SET
			name = excluded.name,
			gender = excluded.gender,
			age = excluded.age,
			accent = excluded.accent,
			description = excluded.description,
			labels = excluded.labels,
			updated_at = excluded.updated_at`,
		v.VoiceID, v.Provider, v.Name, v.Gender, v.Age, v.Accent, v.Description, encodeStrings(v.Labels), v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert voice: %w", err)
	}
	return nil
}

// ListVoices implements storage.VoiceStore. An empty provider lists all.
func (s *Store) ListVoices(ctx context.Context, provider string) ([]*storage.Voice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT voice_id, provider, name, gender, age, accent, description, labels, updated_at
		FROM voices WHERE (? = '' OR provider = ?) ORDER BY provider, name`, provider, provider)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list voices: %w", err)
	}
	defer rows.Close()

	var out []*storage.Voice
	for rows.Next() {
		var v storage.Voice
		var labels string
		if err := rows.Scan(&v.VoiceID, &v.Provider, &v.Name, &v.Gender, &v.Age, &v.Accent, &v.Description, &labels, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan voice: %w", err)
		}
		v.Labels = decodeStrings(labels)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
