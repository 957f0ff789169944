// Package jobs contains the scheduled jobs of the grade worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC POPULATION JOB
// ══════════════════════════════════════════════════════════════════════════════

// UserSyncer runs one user's sync.
type UserSyncer interface {
	Handle(ctx context.Context, cmd command.SyncUserCommand) (*grade.ChangeSet, error)
}

// AccountLister lists the accounts eligible for a pass.
type AccountLister interface {
	ListWithSession(ctx context.Context) ([]account.UserID, error)
}

// PassRecorder receives pass summaries.
type PassRecorder interface {
	PassCompleted(elapsed time.Duration, synced, failed, skipped int)
}

// SyncPopulationConfig contains configuration for the pass.
type SyncPopulationConfig struct {
	// Concurrency is the number of users synced in parallel. 1 keeps the
	// pass strictly sequential.
	Concurrency int

	// ShutdownGrace bounds how long an in-flight user sync may keep running
	// after the pass context is cancelled.
	ShutdownGrace time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// DefaultSyncPopulationConfig returns sensible defaults.
func DefaultSyncPopulationConfig() SyncPopulationConfig {
	return SyncPopulationConfig{
		Concurrency:   1,
		ShutdownGrace: 30 * time.Second,
		Now:           time.Now,
	}
}

// PassStats summarises one pass.
type PassStats struct {
	PassID      string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Users       int
	Synced      int
	Changed     int
	Failed      int
	Skipped     int
	Aborted     bool
}

// SyncPopulationJob syncs every account with a session and forwards
// non-empty change-sets to the dispatcher.
type SyncPopulationJob struct {
	accounts   AccountLister
	syncer     UserSyncer
	dispatcher command.Dispatcher
	recorder   PassRecorder
	logger     *logger.Logger
	config     SyncPopulationConfig

	lastStats atomic.Pointer[PassStats]
}

// NewSyncPopulationJob creates the job. dispatcher and recorder may be nil.
func NewSyncPopulationJob(
	accounts AccountLister,
	syncer UserSyncer,
	dispatcher command.Dispatcher,
	recorder PassRecorder,
	log *logger.Logger,
	config SyncPopulationConfig,
) *SyncPopulationJob {
	def := DefaultSyncPopulationConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = def.ShutdownGrace
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	if log == nil {
		log = logger.Default()
	}
	return &SyncPopulationJob{
		accounts:   accounts,
		syncer:     syncer,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     log.With(logger.Component("sync_population")),
		config:     config,
	}
}

// Name returns the job name.
func (j *SyncPopulationJob) Name() string {
	return "sync_population"
}

// Description returns a human-readable description.
func (j *SyncPopulationJob) Description() string {
	return "Polls nz.ua for every logged-in account and dispatches grade changes"
}

// Run executes one pass. Per-user failures are logged and counted; only a
// failure to list the population fails the pass.
func (j *SyncPopulationJob) Run(ctx context.Context) error {
	stats := &PassStats{PassID: uuid.NewString(), StartedAt: j.config.Now()}
	log := j.logger.With(logger.PassID(stats.PassID))

	ids, err := j.accounts.ListWithSession(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	stats.Users = len(ids)

	userCtx, release := j.detach(ctx)
	defer release()

	var mu sync.Mutex
	count := func(fn func(s *PassStats)) {
		mu.Lock()
		fn(stats)
		mu.Unlock()
	}

	if j.config.Concurrency == 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				stats.Aborted = true
				break
			}
			j.syncOne(userCtx, log, id, count)
		}
	} else {
		sem := semaphore.NewWeighted(int64(j.config.Concurrency))
		var wg sync.WaitGroup
		for _, id := range ids {
			if err := sem.Acquire(ctx, 1); err != nil {
				stats.Aborted = true
				break
			}
			wg.Add(1)
			go func(id account.UserID) {
				defer wg.Done()
				defer sem.Release(1)
				j.syncOne(userCtx, log, id, count)
			}(id)
		}
		wg.Wait()
	}

	stats.CompletedAt = j.config.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)
	if j.recorder != nil {
		j.recorder.PassCompleted(stats.Duration, stats.Synced, stats.Failed, stats.Skipped)
	}

	log.Info("pass completed",
		logger.Int("users", stats.Users),
		logger.Int("synced", stats.Synced),
		logger.Int("changed", stats.Changed),
		logger.Int("failed", stats.Failed),
		logger.Int("skipped", stats.Skipped),
		logger.Bool("aborted", stats.Aborted),
		logger.Latency(stats.Duration),
	)
	return nil
}

// syncOne never lets a single user's failure escape the pass.
func (j *SyncPopulationJob) syncOne(ctx context.Context, log *logger.Logger, id account.UserID, count func(func(*PassStats))) {
	start := j.config.Now()
	log = log.With(logger.UserID(int64(id)))

	changes, err := j.safeHandle(ctx, id)
	elapsed := j.config.Now().Sub(start)

	switch {
	case errors.Is(err, shared.ErrSyncInProgress):
		count(func(s *PassStats) { s.Skipped++ })
		log.Debug("user skipped, sync already running", logger.Latency(elapsed))
		return
	case err != nil:
		count(func(s *PassStats) { s.Failed++ })
		log.Warn("user sync failed",
			logger.Kind(grade.ErrorKind(err)),
			logger.Latency(elapsed),
			logger.Err(err))
		return
	}

	count(func(s *PassStats) {
		s.Synced++
		if !changes.IsEmpty() {
			s.Changed++
		}
	})
	log.Info("user synced",
		logger.Latency(elapsed),
		logger.Int("changes", changes.Total()))

	if changes.IsEmpty() || j.dispatcher == nil {
		return
	}
	if err := j.dispatcher.Dispatch(ctx, id, *changes); err != nil {
		log.Error("dispatch failed", logger.Err(err))
	}
}

func (j *SyncPopulationJob) safeHandle(ctx context.Context, id account.UserID) (changes *grade.ChangeSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync of user %d: %v", id, r)
		}
	}()
	return j.syncer.Handle(ctx, command.SyncUserCommand{UserID: id})
}

// detach returns a context that outlives ctx by at most ShutdownGrace, so a
// user sync in flight at shutdown can commit its snapshot.
func (j *SyncPopulationJob) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	grace := j.config.ShutdownGrace
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-dctx.Done():
		}
	})
	return dctx, func() {
		stop()
		cancel()
	}
}

// LastStats returns statistics from the last pass.
func (j *SyncPopulationJob) LastStats() *PassStats {
	return j.lastStats.Load()
}
