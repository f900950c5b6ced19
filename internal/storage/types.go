package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLoreCapacity indicates a session already holds MaxLoreEntries entries.
	ErrLoreCapacity = errors.New("lorebook capacity reached")
)

// MaxLoreEntries caps lore entries per session.
const MaxLoreEntries = 200

// UsageSnapshot is the denormalized per-session cost ledger. Data holds the
// JSON-encoded provider breakdown; TotalCost is duplicated for querying.
type UsageSnapshot struct {
	SessionID string
	TotalCost float64
	Requests  int
	Data      []byte
	UpdatedAt time.Time
}

// LoreEntry is one lorebook record.
type LoreEntry struct {
	ID         string
	SessionID  string
	Title      string
	Content    string
	EntryType  string
	Tags       []string
	Importance int // 0-100
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IntensityAudit is one append-only record of generated content missing the
// requested intensity.
type IntensityAudit struct {
	ID        string
	SessionID string
	Dimension string
	Expected  int
	Actual    int
	Excerpt   string
	CreatedAt time.Time
}

// SFXCacheEntry tracks a cached sound effect file.
type SFXCacheEntry struct {
	CacheKey        string
	Prompt          string
	DurationSeconds float64
	Loop            bool
	FilePath        string
	SizeBytes       int64
	HitCount        int
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// Voice is one row of the TTS voice catalog.
type Voice struct {
	VoiceID     string
	Provider    string
	Name        string
	Gender      string
	Age         string
	Accent      string
	Description string
	Labels      []string
	UpdatedAt   time.Time
}
