package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepResult counts the entries one sweep evicted per map.
type SweepResult struct {
	Sessions        int
	PendingAudio    int
	LaunchSequences int
	Progress        int
}

// Total is the number of entries evicted across all maps.
func (s SweepResult) Total() int {
	return s.Sessions + s.PendingAudio + s.LaunchSequences + s.Progress
}

// Sweep evicts every entry older than its map's TTL. Expired launch
// sequences are cancelled, then session-expired hooks and sweep hooks run
// after the maps are unlocked.
func (r *Registry) Sweep(ctx context.Context) SweepResult {
	now := r.now()

	sessions := r.sessions.sweep(now, func(s *Session, now time.Time) bool {
		return now.Sub(s.Timestamp) > r.cfg.SessionTTL
	})
	audio := r.pendingAudio.sweep(now, func(p *PendingAudio, now time.Time) bool {
		return now.Sub(p.Timestamp) > r.cfg.PendingAudioTTL
	})
	launches := r.launches.sweep(now, func(l *LaunchSequence, now time.Time) bool {
		return now.Sub(l.StartTime) > r.cfg.LaunchSequenceTTL
	})
	progress := r.progress.sweep(now, r.progressExpired)

	for _, l := range launches {
		r.cancelLaunch(l)
	}

	if len(sessions) > 0 {
		r.hookMu.RLock()
		hooks := append([]SessionExpiredFunc(nil), r.onExpired...)
		r.hookMu.RUnlock()
		for _, s := range sessions {
			for _, fn := range hooks {
				fn(ctx, s.ID)
			}
		}
	}

	res := SweepResult{
		Sessions:        len(sessions),
		PendingAudio:    len(audio),
		LaunchSequences: len(launches),
		Progress:        len(progress),
	}
	if res.Total() > 0 {
		r.logger.Info("expired registry entries",
			zap.Int("sessions", res.Sessions),
			zap.Int("pending_audio", res.PendingAudio),
			zap.Int("launch_sequences", res.LaunchSequences),
			zap.Int("generation_progress", res.Progress))
	}

	r.hookMu.RLock()
	after := append([]SweepFunc(nil), r.onSweep...)
	r.hookMu.RUnlock()
	for _, fn := range after {
		fn(ctx, res)
	}
	return res
}

// progressExpired ages running generations from their start and finished
// ones from their completion.
func (r *Registry) progressExpired(p *Progress, now time.Time) bool {
	if p.Complete {
		return now.Sub(p.UpdatedAt) > r.cfg.CompletedProgressTTL
	}
	return now.Sub(p.StartTime) > r.cfg.ProgressTTL
}
