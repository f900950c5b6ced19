package registry

import (
	"sync"
	"time"
)

// Session is an active story session bound to a socket connection.
type Session struct {
	ID        string
	SocketID  string
	StoryID   string
	Mode      string // e.g. vad, picture_book, classic
	StartedAt time.Time
	Timestamp time.Time // last activity; drives TTL expiry
}

// PendingAudio is audio generated for a session that the client has not
// yet acknowledged.
type PendingAudio struct {
	SessionID string
	Segments  []string
	Timestamp time.Time
}

// Canceler stops a launch sequence. Cancellation is cooperative: in-flight
// provider calls keep running and only their follow-up work is suppressed.
type Canceler interface {
	Cancel() error
}

// CancelFunc adapts a function to Canceler.
type CancelFunc func() error

// Cancel calls f.
func (f CancelFunc) Cancel() error { return f() }

// LaunchSequence is the multi-step story start (cover art, narration,
// first scene) running for a session.
type LaunchSequence struct {
	ID        string
	SessionID string
	StartTime time.Time

	once     sync.Once
	canceler Canceler
}

// NewLaunchSequence creates a sequence whose Cancel invokes c. c may be nil.
func NewLaunchSequence(id, sessionID string, c Canceler) *LaunchSequence {
	return &LaunchSequence{ID: id, SessionID: sessionID, canceler: c}
}

// Cancel runs the canceler at most once.
func (l *LaunchSequence) Cancel() error {
	var err error
	l.once.Do(func() {
		if l.canceler != nil {
			err = l.canceler.Cancel()
		}
	})
	return err
}

// Progress is the generation progress reported to a session.
type Progress struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Complete  bool      `json:"complete"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
}
