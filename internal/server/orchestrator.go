package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/events"
	"github.com/scrypster/storyforge/internal/media"
	"github.com/scrypster/storyforge/internal/registry"
	"github.com/scrypster/storyforge/internal/usage"
)

// stagePictureBook labels picture book progress records.
const stagePictureBook = "picture-book"

var (
	errImagesUnavailable = errors.New("image generation is not configured")
	errNoPrompt          = errors.New("prompt is required to illustrate pages")
)

// illustrator generates one picture book page.
type illustrator interface {
	Generate(ctx context.Context, req media.ImageRequest) (*media.ImageResult, error)
}

// notifyFunc pushes a frame to every client in a session.
type notifyFunc func(sessionID, event string, data any)

// sessionOrchestrator keeps the registry in step with socket traffic: the
// first event of a session registers it, check-ready reports progress,
// pending audio and the cost ledger, and picture book requests run as
// cancellable launch sequences.
type sessionOrchestrator struct {
	reg    *registry.Registry
	ledger *usage.Ledger
	images illustrator
	notify notifyFunc
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Ack acknowledges an accepted event.
type Ack struct {
	Accepted  bool   `json:"accepted"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}

// ReadyReply answers check-ready.
type ReadyReply struct {
	Ready        bool               `json:"ready"`
	Progress     *registry.Progress `json:"progress,omitempty"`
	PendingAudio []string           `json:"pending_audio,omitempty"`
	Usage        *usage.Snapshot    `json:"usage,omitempty"`
}

// LaunchReply answers request-picture-book-images.
type LaunchReply struct {
	LaunchID  string `json:"launch_id"`
	SessionID string `json:"session_id"`
	Pages     []int  `json:"pages"`
}

// EndReply answers end-session.
type EndReply struct {
	Ended     bool            `json:"ended"`
	SessionID string          `json:"session_id"`
	Usage     *usage.Snapshot `json:"usage,omitempty"`
}

// PageImage is pushed to the session as each picture book page finishes.
type PageImage struct {
	LaunchID string             `json:"launch_id"`
	Page     int                `json:"page"`
	Image    *media.ImageResult `json:"image,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func newSessionOrchestrator(reg *registry.Registry, ledger *usage.Ledger, logger *zap.Logger) *sessionOrchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionOrchestrator{
		reg:    reg,
		ledger: ledger,
		logger: logger.Named("orchestrator"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// HandleEvent registers unknown sessions and answers the event. A full
// session map fails the event rather than evicting another session.
func (o *sessionOrchestrator) HandleEvent(ctx context.Context, ev events.Event) (any, error) {
	if ev.Name == events.EndSession {
		ended, snap, err := o.EndSession(ctx, ev.SessionID)
		if err != nil {
			return nil, err
		}
		return EndReply{Ended: ended, SessionID: ev.SessionID, Usage: snap}, nil
	}

	if _, ok := o.reg.Session(ev.SessionID); !ok {
		if _, err := o.reg.StartSession(registry.Session{ID: ev.SessionID}); err != nil {
			o.logger.Warn("cannot register session", zap.String("session_id", ev.SessionID), zap.Error(err))
			return nil, err
		}
	}

	switch ev.Name {
	case events.CheckReady:
		return o.checkReady(ev.SessionID), nil
	case events.RequestPictureBookImages:
		return o.launchPictureBook(ev)
	case events.CancelGeneration:
		return Ack{Accepted: o.reg.CancelLaunch(ev.SessionID), Event: ev.Name, SessionID: ev.SessionID}, nil
	}
	return Ack{Accepted: true, Event: ev.Name, SessionID: ev.SessionID}, nil
}

func (o *sessionOrchestrator) checkReady(sessionID string) ReadyReply {
	reply := ReadyReply{Ready: true, PendingAudio: o.reg.TakePendingAudio(sessionID)}
	if p, ok := o.reg.Progress(sessionID); ok {
		reply.Progress = &p
		reply.Ready = p.Complete
	}
	if o.ledger != nil {
		if snap, ok := o.ledger.Snapshot(sessionID); ok {
			reply.Usage = &snap
		}
	}
	return reply
}

// EndSession drops the session's registry entries, cancelling any launch,
// and flushes its ledger to the store. It reports whether anything was
// live and returns the final usage when the session had any.
func (o *sessionOrchestrator) EndSession(ctx context.Context, sessionID string) (bool, *usage.Snapshot, error) {
	ended := o.reg.EndSession(sessionID)
	if o.ledger == nil {
		return ended, nil, nil
	}
	snap, live := o.ledger.Snapshot(sessionID)
	if err := o.ledger.Flush(ctx, sessionID); err != nil {
		return ended, nil, fmt.Errorf("failed to flush usage for session %s: %w", sessionID, err)
	}
	o.logger.Info("session ended", zap.String("session_id", sessionID), zap.Bool("had_usage", live))
	if !live {
		return ended, nil, nil
	}
	return true, &snap, nil
}

// launchPictureBook starts illustrating the requested pages in the
// background. A new request replaces and cancels the session's previous
// launch.
func (o *sessionOrchestrator) launchPictureBook(ev events.Event) (any, error) {
	if o.images == nil {
		return nil, errImagesUnavailable
	}
	if ev.Prompt == "" {
		return nil, errNoPrompt
	}
	pages := ev.Pages
	if len(pages) == 0 {
		pages = []int{1}
	}

	ctx, cancel := context.WithCancel(o.ctx)
	launch, err := o.reg.StartLaunch(ev.SessionID, registry.CancelFunc(func() error {
		cancel()
		return nil
	}))
	if err != nil {
		cancel()
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.illustrate(ctx, launch, ev.Prompt, pages)
	}()
	return LaunchReply{LaunchID: launch.ID, SessionID: ev.SessionID, Pages: pages}, nil
}

func (o *sessionOrchestrator) illustrate(ctx context.Context, launch *registry.LaunchSequence, prompt string, pages []int) {
	sessionID := launch.SessionID
	logger := o.logger.With(zap.String("session_id", sessionID), zap.String("launch_id", launch.ID))
	progress := func(done int, message string) {
		pct := float64(done) / float64(len(pages)) * 100
		if _, err := o.reg.UpdateProgress(sessionID, stagePictureBook, pct, message); err != nil {
			logger.Warn("failed to record picture book progress", zap.Error(err))
		}
	}

	rendered := 0
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		progress(i, fmt.Sprintf("illustrating page %d", page))
		res, err := o.images.Generate(ctx, media.ImageRequest{
			SessionID: sessionID,
			Prompt:    fmt.Sprintf("%s, picture book page %d", prompt, page),
		})
		if ctx.Err() != nil {
			break
		}
		out := PageImage{LaunchID: launch.ID, Page: page, Image: res}
		if err != nil {
			logger.Warn("picture book page failed", zap.Int("page", page), zap.Error(err))
			out.Error = err.Error()
		} else {
			rendered++
		}
		if o.notify != nil {
			o.notify(sessionID, events.PictureBookImage, out)
		}
	}

	o.reg.FinishLaunch(launch)
	if ctx.Err() != nil {
		// The canceller owns the session's progress from here.
		logger.Info("picture book cancelled", zap.Int("rendered", rendered))
		return
	}
	msg := fmt.Sprintf("illustrated %d of %d pages", rendered, len(pages))
	if _, err := o.reg.CompleteProgress(sessionID, msg); err != nil {
		logger.Warn("failed to complete picture book progress", zap.Error(err))
	}
	logger.Info("picture book complete", zap.Int("rendered", rendered), zap.Int("pages", len(pages)))
}

// Stop cancels running launches and waits for them to return.
func (o *sessionOrchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}
