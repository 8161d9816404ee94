// Package archive moves settled ledger history into cold storage on a
// schedule and trims the primary store down to the retention window.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// lockKey serialises sweeps across bot instances sharing one database.
const lockKey = "archive:sweep"

// lockTTL bounds how long a crashed sweep can block the next one.
const lockTTL = 10 * time.Minute

// TradeTrimmer deletes settled attempts the sweep has archived.
type TradeTrimmer interface {
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditTrimmer deletes audit entries the sweep has archived.
type AuditTrimmer interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditSink records completed sweeps for the audit trail. May be nil.
// *postgres.AuditStore satisfies it.
type AuditSink interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Config holds sweep parameters.
type Config struct {
	// RetentionDays is how much settled history stays in Postgres.
	RetentionDays int
	// Cron is a five-field schedule expression for the sweep.
	Cron string
}

// Archiver runs the scheduled sweep: lock, archive, then trim. Trimming
// only ever follows a successful upload, so a failed sweep leaves the
// primary store intact.
type Archiver struct {
	cfg    Config
	blob   domain.Archiver
	trades TradeTrimmer
	audits AuditTrimmer
	audit  AuditSink
	locks  domain.LockManager
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Archiver.
func New(cfg Config, blob domain.Archiver, trades TradeTrimmer, audits AuditTrimmer, audit AuditSink, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:    cfg,
		blob:   blob,
		trades: trades,
		audits: audits,
		audit:  audit,
		locks:  locks,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run executes sweeps on the cron schedule until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	schedule, err := parseCron(a.cfg.Cron)
	if err != nil {
		return fmt.Errorf("archive: parse cron %q: %w", a.cfg.Cron, err)
	}

	a.logger.Info("archiver started",
		slog.String("cron", a.cfg.Cron),
		slog.Int("retention_days", a.cfg.RetentionDays),
	)
	defer a.logger.Info("archiver stopped")

	for {
		next, err := schedule.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("archive: cron %q: %w", a.cfg.Cron, err)
		}
		a.logger.Debug("next sweep scheduled", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep performs one archive-then-trim pass. The Redis lock keeps
// concurrent instances from racing; losing it skips the pass rather than
// failing it.
func (a *Archiver) Sweep(ctx context.Context) error {
	unlock, err := a.locks.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("sweep already running elsewhere, skipping")
			return nil
		}
		return fmt.Errorf("archive: acquire lock: %w", err)
	}
	defer unlock()

	cutoff := a.now().UTC().AddDate(0, 0, -a.cfg.RetentionDays)
	a.logger.Info("sweep started", slog.Time("cutoff", cutoff))

	tradeCount, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: trades: %w", err)
	}
	if tradeCount > 0 {
		deleted, err := a.trades.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive: trim trades: %w", err)
		}
		a.logger.Info("trades archived",
			slog.Int64("archived", tradeCount),
			slog.Int64("deleted", deleted),
		)
	}

	auditCount, err := a.blob.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: audit log: %w", err)
	}
	if auditCount > 0 {
		deleted, err := a.audits.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive: trim audit log: %w", err)
		}
		a.logger.Info("audit log archived",
			slog.Int64("archived", auditCount),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.Info("sweep complete",
		slog.Int64("trades", tradeCount),
		slog.Int64("audit_entries", auditCount),
	)
	if tradeCount > 0 || auditCount > 0 {
		a.recordRun(ctx, cutoff, tradeCount, auditCount)
	}
	return nil
}

// recordRun writes one audit row per sweep that moved data. Audit failures
// never fail the sweep; the data is already safe in cold storage.
func (a *Archiver) recordRun(ctx context.Context, cutoff time.Time, trades, auditEntries int64) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, "archive.run", map[string]any{
		"cutoff":        cutoff.Format(time.RFC3339),
		"trades":        trades,
		"audit_entries": auditEntries,
	}); err != nil {
		a.logger.WarnContext(ctx, "archive audit write failed",
			slog.String("error", err.Error()),
		)
	}
}
