// Package storage defines the persistence collaborators for story sessions:
// usage snapshots, lorebooks, the intensity audit trail, the sound effect
// cache and the voice catalog. Implementations live in sqlite and postgres.
package storage

import "context"

// UsageStore persists per-session cost ledgers.
type UsageStore interface {
	// UpsertUsageSnapshot writes the snapshot keyed by session id. Calling it
	// repeatedly is safe; the last write wins.
	UpsertUsageSnapshot(ctx context.Context, snap *UsageSnapshot) error

	// GetUsageSnapshot returns ErrNotFound when the session was never persisted.
	GetUsageSnapshot(ctx context.Context, sessionID string) (*UsageSnapshot, error)
}

// LoreStore persists lorebook entries.
type LoreStore interface {
	// ListLoreEntries returns up to limit entries ordered by importance desc.
	ListLoreEntries(ctx context.Context, sessionID string, limit int) ([]*LoreEntry, error)

	// SaveLoreEntry inserts or updates an entry. Inserting beyond
	// MaxLoreEntries returns ErrLoreCapacity.
	SaveLoreEntry(ctx context.Context, entry *LoreEntry) error

	// DeleteLoreEntry returns ErrNotFound when no row matched.
	DeleteLoreEntry(ctx context.Context, sessionID, id string) error
}

// AuditStore records intensity mismatches.
type AuditStore interface {
	InsertIntensityAudit(ctx context.Context, rec *IntensityAudit) error
	ListIntensityAudits(ctx context.Context, sessionID string) ([]*IntensityAudit, error)
}

// SFXCacheStore tracks cached sound effect files.
type SFXCacheStore interface {
	// RecordSFX upserts the row and bumps its hit count and last-used time.
	RecordSFX(ctx context.Context, entry *SFXCacheEntry) error
	GetSFX(ctx context.Context, cacheKey string) (*SFXCacheEntry, error)
}

// VoiceStore holds the TTS voice catalog.
type VoiceStore interface {
	UpsertVoice(ctx context.Context, v *Voice) error
	ListVoices(ctx context.Context, provider string) ([]*Voice, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	UsageStore
	LoreStore
	AuditStore
	SFXCacheStore
	VoiceStore
	Close() error
}
