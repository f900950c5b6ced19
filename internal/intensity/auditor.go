package intensity

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/storage"
)

// maxExcerptRunes bounds the content excerpt stored with each mismatch.
const maxExcerptRunes = 500

// Mismatch is generated content that missed a requested slider level.
type Mismatch struct {
	SessionID string
	Dimension string
	Expected  int
	Actual    int
	Excerpt   string
}

// Auditor appends intensity mismatches to the audit trail. Recording is
// observability only: failures are logged and never reach the caller.
type Auditor struct {
	store  storage.AuditStore
	logger *zap.Logger
}

// NewAuditor creates an auditor. A nil store makes Record log-only.
func NewAuditor(store storage.AuditStore, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{store: store, logger: logger.Named("intensity_audit")}
}

// Record stores one mismatch.
func (a *Auditor) Record(ctx context.Context, m Mismatch) {
	excerpt := truncateRunes(m.Excerpt, maxExcerptRunes)
	a.logger.Warn("intensity mismatch",
		zap.String("session_id", m.SessionID),
		zap.String("dimension", m.Dimension),
		zap.Int("expected", m.Expected),
		zap.Int("actual", m.Actual))

	if a.store == nil {
		return
	}
	err := a.store.InsertIntensityAudit(ctx, &storage.IntensityAudit{
		SessionID: m.SessionID,
		Dimension: m.Dimension,
		Expected:  m.Expected,
		Actual:    m.Actual,
		Excerpt:   excerpt,
	})
	if err != nil {
		a.logger.Error("failed to record intensity mismatch", zap.String("session_id", m.SessionID), zap.Error(err))
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
