package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC USER COMMAND
// One unit of work: refresh token → collect → diff → persist → change-set.
// ══════════════════════════════════════════════════════════════════════════════

// SyncUserCommand identifies the account to synchronize.
type SyncUserCommand struct {
	UserID account.UserID
}

// Validate validates the command.
func (c SyncUserCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// SyncUserHandlerConfig contains configuration for the handler.
type SyncUserHandlerConfig struct {
	// Timeout bounds one user's sync. Zero means no extra bound.
	Timeout time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// SyncUserHandler handles SyncUserCommand.
type SyncUserHandler struct {
	repo     account.Repository
	sessions *SessionManager
	source   GradeSource
	locks    *UserLocks
	recorder Recorder
	logger   *logger.Logger
	config   SyncUserHandlerConfig
}

// NewSyncUserHandler creates a new SyncUserHandler. It shares the per-user
// locks of sessions. recorder may be nil.
func NewSyncUserHandler(
	repo account.Repository,
	sessions *SessionManager,
	source GradeSource,
	recorder Recorder,
	log *logger.Logger,
	config SyncUserHandlerConfig,
) *SyncUserHandler {
	if config.Now == nil {
		config.Now = time.Now
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &SyncUserHandler{
		repo:     repo,
		sessions: sessions,
		source:   source,
		locks:    sessions.locks,
		recorder: recorder,
		logger:   log.With(logger.Component("sync")),
		config:   config,
	}
}

// Strategy returns the name of the configured grade source.
func (h *SyncUserHandler) Strategy() string {
	return h.source.Name()
}

// Handle synchronizes one account.
//
// It returns (nil, nil) when the remote had nothing usable; the stored
// snapshot is left as it was. Otherwise the new grade set replaces the
// snapshot, even when the change-set is empty. Any failure before the
// write leaves the account untouched.
//
// A second call for the same user while one is running, or while the
// user's credentials are being changed, fails with shared.ErrSyncInProgress
// instead of waiting. If the account was changed or deleted behind the
// lock, the snapshot is not written and shared.ErrStaleAccount or
// shared.ErrAccountNotFound is returned.
func (h *SyncUserHandler) Handle(ctx context.Context, cmd SyncUserCommand) (*grade.ChangeSet, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("sync_user: %w", err)
	}

	start := h.config.Now()
	release, err := h.locks.TryAcquire(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrSyncInProgress) {
			h.recorder.UserSynced(h.source.Name(), OutcomeSkipped, 0, nil)
		}
		return nil, err
	}
	defer release()

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	changes, err := h.sync(ctx, cmd.UserID)
	elapsed := h.config.Now().Sub(start)

	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = grade.ErrorKind(err)
	case changes == nil:
		outcome = OutcomeNoData
	}
	h.recorder.UserSynced(h.source.Name(), outcome, elapsed, changes)

	if err != nil {
		return nil, fmt.Errorf("sync_user %d: %w", cmd.UserID, err)
	}
	return changes, nil
}

func (h *SyncUserHandler) sync(ctx context.Context, id account.UserID) (*grade.ChangeSet, error) {
	acc, err := h.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	acc, err = h.sessions.EnsureFreshToken(ctx, acc)
	if err != nil {
		return nil, err
	}

	current, err := h.source.Collect(ctx, acc)
	if errors.Is(err, grade.ErrNoData) {
		h.logger.Debug("nothing to report", logger.UserID(int64(id)))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	changes := grade.Diff(acc.Snapshot.Lessons, current)

	if err := h.repo.CommitSnapshot(ctx, acc.WithSnapshot(current, h.config.Now()), acc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	h.logger.Debug("snapshot committed",
		logger.UserID(int64(id)),
		logger.Int("records", len(current)),
		logger.Int("new", len(changes.New)),
		logger.Int("updated", len(changes.Updated)),
		logger.Int("removed", len(changes.Removed)))
	return &changes, nil
}
