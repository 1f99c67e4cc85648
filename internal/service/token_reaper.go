package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const reaperJobName = "refresh-token-reaper"

type tokenPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenReaper deletes refresh token rows that expired more than retention ago.
// Live rows, revoked or not, are never touched.
type TokenReaper struct {
	purger    tokenPurger
	retention time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTokenReaper constructs a reaper.
func NewTokenReaper(purger tokenPurger, retention time.Duration, logger *zap.Logger) *TokenReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention < 0 {
		retention = 0
	}
	return &TokenReaper{purger: purger, retention: retention, timeout: time.Minute, logger: logger}
}

// Run performs one sweep.
func (r *TokenReaper) Run(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.purger.PurgeExpired(ctx, r.retention)
	if err != nil {
		r.logger.Error("refresh token reaper failed", zap.Error(err))
		return 0, err
	}
	r.logger.Info("refresh token reaper finished", zap.Int64("deleted", n), zap.Duration("retention", r.retention))
	return n, nil
}

// Register schedules the reaper on scheduler using a cron expression.
func (r *TokenReaper) Register(scheduler gocron.Scheduler, schedule string) error {
	_, err := scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			_, _ = r.Run(context.Background())
		}),
		gocron.WithName(reaperJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule refresh token reaper: %w", err)
	}
	return nil
}
