// Package backup takes verified point-in-time copies of the sqlite store on
// a schedule and prunes them with a tiered retention policy.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const filePrefix = "storyforge-"

// ErrRunning is returned by Restore while the schedule is active.
var ErrRunning = errors.New("backup: schedule is running")

// Config configures a Service.
type Config struct {
	DBPath    string        // sqlite file to copy
	Dir       string        // backup directory, created when missing
	Interval  time.Duration // schedule period (default 1h)
	Verify    bool          // run integrity_check on every new backup
	Retention Retention
}

// Result describes a completed backup.
type Result struct {
	Info
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
	Pruned   int           `json:"pruned"`
}

// Service runs backups on demand or on a schedule.
type Service struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	last time.Time
}

// New validates cfg and creates the backup directory.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Retention = cfg.Retention.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create %s: %w", cfg.Dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger.Named("backup"), now: time.Now}, nil
}

// Start schedules backups every Interval. Calling Start twice is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), s.scheduled); err != nil {
		return fmt.Errorf("backup: failed to schedule: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("backup schedule started", zap.Duration("interval", s.cfg.Interval), zap.String("dir", s.cfg.Dir))
	return nil
}

// Stop halts the schedule and waits for a running backup.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Service) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()
	if _, err := s.Backup(ctx); err != nil {
		s.logger.Error("scheduled backup failed", zap.Error(err))
	}
}

// Backup copies the database now, verifies the copy when configured and
// applies retention. A retention failure is logged, not returned.
func (s *Service) Backup(ctx context.Context) (*Result, error) {
	start := s.now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	path := filepath.Join(s.cfg.Dir, filePrefix+start.UTC().Format("20060102-150405.000000")+".db")
	if err := snapshot(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}
	res := &Result{Info: Info{Path: path, CreatedAt: start}}
	if s.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, err
		}
		res.Verified = true
	}
	if fi, err := os.Stat(path); err == nil {
		res.Size = fi.Size()
	}

	pruned, err := prune(s.cfg.Dir, s.cfg.Retention, s.now())
	if err != nil {
		s.logger.Warn("failed to apply backup retention", zap.Error(err))
	}
	res.Pruned = pruned
	res.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.last = start
	s.mu.Unlock()
	s.logger.Info("backup completed",
		zap.String("path", path),
		zap.Int64("bytes", res.Size),
		zap.Bool("verified", res.Verified),
		zap.Int("pruned", pruned),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// List returns the stored backups, newest first.
func (s *Service) List() ([]Info, error) {
	return list(s.cfg.Dir)
}

// LastBackup reports when the most recent successful backup started.
func (s *Service) LastBackup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Restore replaces the database with backupPath. The store must be closed
// and the schedule stopped. On failure the previous database is put back.
func (s *Service) Restore(ctx context.Context, backupPath string) error {
	s.mu.Lock()
	running := s.cron != nil
	s.mu.Unlock()
	if running {
		return ErrRunning
	}
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	rollback := s.cfg.DBPath + ".pre-restore"
	haveRollback := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		_ = os.Remove(rollback)
		if err := snapshot(ctx, s.cfg.DBPath, rollback); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
		haveRollback = true
		defer func() { _ = os.Remove(rollback) }()
	}

	if err := copyVerified(ctx, backupPath, s.cfg.DBPath); err != nil {
		if !haveRollback {
			return err
		}
		if rbErr := copyVerified(ctx, rollback, s.cfg.DBPath); rbErr != nil {
			return errors.Join(err, fmt.Errorf("backup: rollback failed: %w", rbErr))
		}
		return fmt.Errorf("backup: restore failed, previous database kept: %w", err)
	}
	s.logger.Info("database restored", zap.String("from", backupPath))
	return nil
}
