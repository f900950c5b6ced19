// Package registry holds the process-wide in-memory session state: active
// sessions, pending audio, launch sequences and generation progress.
//
// Every map is bounded. A full map rejects new ids with a *CapacityError
// instead of evicting. Entries expire by age through Sweep, which the
// Reaper runs on a fixed schedule.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/config"
)

// Map names used in capacity errors and CanAdd.
const (
	MapSessions           = "sessions"
	MapPendingAudio       = "pending_audio"
	MapLaunchSequences    = "launch_sequences"
	MapGenerationProgress = "generation_progress"
)

// ProgressObserver receives a copy of every progress update. Observers are
// called synchronously and must not block.
type ProgressObserver func(Progress)

// SessionExpiredFunc runs after the reaper evicts a session.
type SessionExpiredFunc func(ctx context.Context, sessionID string)

// SweepFunc runs at the end of every sweep, after the expiry hooks.
type SweepFunc func(ctx context.Context, res SweepResult)

// Registry owns the session maps. Construct one per process with New and
// inject it into the handlers that need it.
type Registry struct {
	cfg    config.RegistryConfig
	logger *zap.Logger
	now    func() time.Time

	sessions     *boundedMap[*Session]
	pendingAudio *boundedMap[*PendingAudio]
	launches     *boundedMap[*LaunchSequence]
	progress     *boundedMap[*Progress]

	hookMu    sync.RWMutex
	observers map[int]ProgressObserver
	nextObs   int
	onExpired []SessionExpiredFunc
	onSweep   []SweepFunc
}

// New creates an empty registry.
func New(cfg config.RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("registry")
	return &Registry{
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		sessions:     newBoundedMap[*Session](MapSessions, cfg.Sessions, logger),
		pendingAudio: newBoundedMap[*PendingAudio](MapPendingAudio, cfg.PendingAudio, logger),
		launches:     newBoundedMap[*LaunchSequence](MapLaunchSequences, cfg.LaunchSequences, logger),
		progress:     newBoundedMap[*Progress](MapGenerationProgress, cfg.GenerationProgress, logger),
		observers:    make(map[int]ProgressObserver),
	}
}

// CanAdd reports whether the named map can accept one more id. It returns
// a *CapacityError when the map is full.
func (r *Registry) CanAdd(mapName string) error {
	switch mapName {
	case MapSessions:
		return r.sessions.canAdd()
	case MapPendingAudio:
		return r.pendingAudio.canAdd()
	case MapLaunchSequences:
		return r.launches.canAdd()
	case MapGenerationProgress:
		return r.progress.canAdd()
	default:
		return fmt.Errorf("registry: unknown map %q", mapName)
	}
}

// Sizes returns the current entry count of every map.
func (r *Registry) Sizes() map[string]int {
	return map[string]int{
		MapSessions:           r.sessions.size(),
		MapPendingAudio:       r.pendingAudio.size(),
		MapLaunchSequences:    r.launches.size(),
		MapGenerationProgress: r.progress.size(),
	}
}

// OnSessionExpired registers fn to run for every session the reaper evicts.
func (r *Registry) OnSessionExpired(fn SessionExpiredFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onExpired = append(r.onExpired, fn)
}

// OnSweep registers fn to run after every sweep, including sweeps that
// evict nothing.
func (r *Registry) OnSweep(fn SweepFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onSweep = append(r.onSweep, fn)
}

// SubscribeProgress registers an observer and returns its unsubscribe func.
func (r *Registry) SubscribeProgress(fn ProgressObserver) func() {
	r.hookMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.hookMu.Unlock()

	return func() {
		r.hookMu.Lock()
		delete(r.observers, id)
		r.hookMu.Unlock()
	}
}

// --- sessions ---

// StartSession registers a session. A new id is assigned when s.ID is
// empty. Re-registering an existing id refreshes it.
func (r *Registry) StartSession(s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.Timestamp = now
	if err := r.sessions.put(s.ID, &s); err != nil {
		return Session{}, err
	}
	r.logger.Debug("session started", zap.String("session_id", s.ID), zap.String("socket_id", s.SocketID))
	return s, nil
}

// Session returns a copy of the session.
func (r *Registry) Session(id string) (Session, bool) {
	r.sessions.mu.RLock()
	defer r.sessions.mu.RUnlock()
	s, ok := r.sessions.items[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// TouchSession marks activity on a session, postponing its expiry.
func (r *Registry) TouchSession(id string) bool {
	now := r.now()
	return r.sessions.update(id, func(s *Session) { s.Timestamp = now })
}

// EndSession removes a session and everything keyed by it.
func (r *Registry) EndSession(id string) bool {
	_, ok := r.sessions.remove(id)
	r.pendingAudio.remove(id)
	r.progress.remove(id)
	if l, found := r.launches.remove(id); found {
		r.cancelLaunch(l)
	}
	return ok
}

// --- pending audio ---

// AddPendingAudio appends segment ids to the session's pending audio.
func (r *Registry) AddPendingAudio(sessionID string, segments ...string) error {
	now := r.now()
	if r.pendingAudio.update(sessionID, func(p *PendingAudio) {
		p.Segments = append(p.Segments, segments...)
		p.Timestamp = now
	}) {
		return nil
	}
	return r.pendingAudio.put(sessionID, &PendingAudio{
		SessionID: sessionID,
		Segments:  append([]string(nil), segments...),
		Timestamp: now,
	})
}

// TakePendingAudio removes and returns the session's pending segments.
func (r *Registry) TakePendingAudio(sessionID string) []string {
	p, ok := r.pendingAudio.remove(sessionID)
	if !ok {
		return nil
	}
	return p.Segments
}

// --- launch sequences ---

// StartLaunch registers a launch sequence for a session. An existing
// sequence for the same session is cancelled and replaced.
func (r *Registry) StartLaunch(sessionID string, c Canceler) (*LaunchSequence, error) {
	l := NewLaunchSequence(uuid.NewString(), sessionID, c)
	l.StartTime = r.now()

	r.launches.mu.Lock()
	prev, hadPrev := r.launches.items[sessionID]
	if !hadPrev {
		if err := r.launches.canAddLocked(); err != nil {
			r.launches.mu.Unlock()
			return nil, err
		}
	}
	r.launches.items[sessionID] = l
	r.launches.mu.Unlock()

	if hadPrev {
		r.cancelLaunch(prev)
	}
	return l, nil
}

// Launch returns the session's launch sequence.
func (r *Registry) Launch(sessionID string) (*LaunchSequence, bool) {
	return r.launches.get(sessionID)
}

// CancelLaunch removes and cancels the session's launch sequence.
func (r *Registry) CancelLaunch(sessionID string) bool {
	l, ok := r.launches.remove(sessionID)
	if ok {
		r.cancelLaunch(l)
	}
	return ok
}

// FinishLaunch removes the sequence without cancelling it. It is a no-op
// if the session has since started a different sequence.
func (r *Registry) FinishLaunch(l *LaunchSequence) {
	r.launches.mu.Lock()
	defer r.launches.mu.Unlock()
	if cur, ok := r.launches.items[l.SessionID]; ok && cur == l {
		delete(r.launches.items, l.SessionID)
	}
}

// cancelLaunch is best effort: errors and panics are logged and dropped.
func (r *Registry) cancelLaunch(l *LaunchSequence) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("launch cancel panicked", zap.String("session_id", l.SessionID), zap.Any("panic", p))
		}
	}()
	if err := l.Cancel(); err != nil {
		r.logger.Warn("launch cancel failed", zap.String("session_id", l.SessionID), zap.Error(err))
	}
}

// --- generation progress ---

// UpdateProgress records progress for a session and notifies observers.
func (r *Registry) UpdateProgress(sessionID, stage string, percent float64, message string) (Progress, error) {
	return r.setProgress(sessionID, stage, percent, message, false)
}

// CompleteProgress marks the session's generation finished. Completed
// records expire on the shorter completed TTL.
func (r *Registry) CompleteProgress(sessionID, message string) (Progress, error) {
	return r.setProgress(sessionID, "complete", 100, message, true)
}

func (r *Registry) setProgress(sessionID, stage string, percent float64, message string, complete bool) (Progress, error) {
	now := r.now()
	percent = max(0, min(100, percent))

	var snapshot Progress
	apply := func(p *Progress) {
		p.Stage = stage
		p.Percent = percent
		p.Message = message
		p.Complete = complete
		p.UpdatedAt = now
		snapshot = *p
	}
	if !r.progress.update(sessionID, apply) {
		p := &Progress{SessionID: sessionID, StartTime: now}
		apply(p)
		if err := r.progress.put(sessionID, p); err != nil {
			return Progress{}, err
		}
	}

	r.notifyProgress(snapshot)
	return snapshot, nil
}

// Progress returns a copy of the session's progress.
func (r *Registry) Progress(sessionID string) (Progress, bool) {
	r.progress.mu.RLock()
	defer r.progress.mu.RUnlock()
	p, ok := r.progress.items[sessionID]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

func (r *Registry) notifyProgress(p Progress) {
	r.hookMu.RLock()
	observers := make([]ProgressObserver, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.hookMu.RUnlock()

	for _, fn := range observers {
		fn(p)
	}
}
