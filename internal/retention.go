package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionSweeper runs the backup retention sweep on a cron schedule.
// The sweep is decoupled from migrations: it only deletes expired backup
// payloads and never touches audit records.
type RetentionSweeper struct {
	backups  *BackupRepository
	schedule string
	cron     *cron.Cron
	timeout  time.Duration
}

// NewRetentionSweeper constructs a sweeper with a standard 5-field cron
// schedule, e.g. "0 3 * * *" for a daily 03:00 sweep.
func NewRetentionSweeper(backups *BackupRepository, schedule string) *RetentionSweeper {
	return &RetentionSweeper{
		backups:  backups,
		schedule: schedule,
		cron:     cron.New(),
		timeout:  10 * time.Minute,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *RetentionSweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.backups.SweepExpired(ctx); err != nil {
			zap.S().Errorw("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register retention sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	zap.S().Infow("retention sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
