package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET CREDENTIALS COMMAND
// Stores login/password and authenticates right away.
// ══════════════════════════════════════════════════════════════════════════════

// SetCredentialsCommand contains the data needed to (re)authorize a user.
type SetCredentialsCommand struct {
	UserID   account.UserID
	Login    string
	Password string
}

// Validate validates the command.
func (c SetCredentialsCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !(account.Credentials{Login: c.Login, Password: c.Password}).IsComplete() {
		return shared.ErrCredentialsInvalid
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRefreshHorizon is how far ahead of expiry a token is renewed.
const DefaultRefreshHorizon = 25 * 24 * time.Hour

// SessionManagerConfig contains configuration for the manager.
type SessionManagerConfig struct {
	// RefreshHorizon: a token expiring at or before now+RefreshHorizon is renewed.
	RefreshHorizon time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// SessionManager owns credentials and the bearer-token lifecycle.
type SessionManager struct {
	repo     account.Repository
	auth     Authenticator
	locks    *UserLocks
	recorder Recorder
	logger   *logger.Logger
	horizon  time.Duration
	now      func() time.Time
}

// NewSessionManager creates a new SessionManager. A nil locks means an
// in-process lock set.
func NewSessionManager(
	repo account.Repository,
	auth Authenticator,
	locks *UserLocks,
	recorder Recorder,
	log *logger.Logger,
	config SessionManagerConfig,
) *SessionManager {
	if config.RefreshHorizon <= 0 {
		config.RefreshHorizon = DefaultRefreshHorizon
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.Default()
	}
	if locks == nil {
		locks = NewUserLocks(nil, 0, log)
	}
	return &SessionManager{
		repo:     repo,
		auth:     auth,
		locks:    locks,
		recorder: recorder,
		logger:   log.With(logger.Component("session")),
		horizon:  config.RefreshHorizon,
		now:      config.Now,
	}
}

// SetCredentials authenticates with the given credentials and, on success,
// stores them together with the new profile and session in one write.
// A rejected login leaves the stored account untouched. A login into a
// different student starts over with an empty snapshot.
//
// It fails with shared.ErrSyncInProgress while the user is being synced.
func (m *SessionManager) SetCredentials(ctx context.Context, cmd SetCredentialsCommand) (*account.Account, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_credentials: %w", err)
	}
	cmd.Login = strings.TrimSpace(cmd.Login)

	release, err := m.locks.TryAcquire(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("set_credentials: %w", err)
	}
	defer release()

	acc, err := m.repo.Get(ctx, cmd.UserID)
	switch {
	case errors.Is(err, shared.ErrAccountNotFound):
		acc, err = account.New(cmd.UserID, m.now())
		if err != nil {
			return nil, fmt.Errorf("set_credentials: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("set_credentials: load account: %w", err)
	}

	creds := account.Credentials{Login: cmd.Login, Password: cmd.Password}
	res, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.logger.Warn("login rejected",
			logger.UserID(int64(cmd.UserID)),
			logger.Kind(grade.ErrorKind(err)),
			logger.Err(err))
		return nil, fmt.Errorf("set_credentials: %w", err)
	}

	now := m.now()
	next := acc.WithCredentials(creds, now).WithLogin(res, now)
	if acc.Profile != nil && acc.StudentID() != res.StudentID {
		next = next.WithSnapshot(nil, now)
	}
	if err := m.repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("set_credentials: save account: %w", err)
	}

	m.logger.Info("user authorized",
		logger.UserID(int64(cmd.UserID)),
		logger.Int64("student_id", res.StudentID))
	return next, nil
}

// EnsureFreshToken re-authenticates when the stored token expires at or
// before now + horizon and returns the account to use for fetching.
// The renewed session is persisted before returning.
func (m *SessionManager) EnsureFreshToken(ctx context.Context, acc *account.Account) (*account.Account, error) {
	if !acc.NeedsRefresh(m.now(), m.horizon) {
		return acc, nil
	}
	if !acc.Credentials.IsComplete() {
		m.recorder.TokenRefreshed(grade.KindAuth)
		return nil, shared.ErrNoCredentials
	}

	res, err := m.auth.Login(ctx, acc.Credentials)
	if err != nil {
		m.recorder.TokenRefreshed(grade.ErrorKind(err))
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	next := acc.WithLogin(res, m.now())
	if err := m.repo.Save(ctx, next); err != nil {
		m.recorder.TokenRefreshed(grade.KindInternal)
		return nil, fmt.Errorf("refresh token: save session: %w", err)
	}
	m.recorder.TokenRefreshed(OutcomeRefreshed)

	m.logger.Debug("token refreshed",
		logger.UserID(int64(acc.ID)),
		logger.Time("expires_at", next.Session.ExpiryTime()))
	return next, nil
}

// Logout deletes the account with its credentials and snapshot.
// It fails with shared.ErrSyncInProgress while the user is being synced.
func (m *SessionManager) Logout(ctx context.Context, id account.UserID) error {
	release, err := m.locks.TryAcquire(ctx, id)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer release()

	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	m.logger.Info("user logged out", logger.UserID(int64(id)))
	return nil
}
