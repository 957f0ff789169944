// Package command contains write operations (CQRS - Commands).
// Commands change the state of the system: credentials, sessions and the
// stored grade snapshot of each account.
package command

import (
	"context"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
)

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks . Authenticator,GradeSource,Dispatcher,Locker
//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks github.com/nzua-hub/grade-notifier/internal/domain/account Repository

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Authenticator exchanges credentials for a session.
type Authenticator interface {
	// Login returns *grade.AuthError for rejected or malformed answers and
	// *grade.RemoteFetchError when the remote could not be reached.
	Login(ctx context.Context, creds account.Credentials) (account.LoginResult, error)
}

// GradeSource collects the current grade set of a logged-in account.
// Implementations return grade.ErrNoData when the remote has nothing usable.
type GradeSource interface {
	Name() string
	Collect(ctx context.Context, acc *account.Account) ([]grade.Record, error)
}

// Dispatcher delivers a non-empty change-set to the user.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error
}

// Locker provides mutual exclusion across processes.
type Locker interface {
	// TryLock returns ok == false when the key is held by someone else.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases the key if it is still held with token.
	Unlock(ctx context.Context, key, token string) error
}

// Recorder receives sync telemetry.
type Recorder interface {
	TokenRefreshed(outcome string)
	UserSynced(strategy, outcome string, elapsed time.Duration, changes *grade.ChangeSet)
}

type nopRecorder struct{}

func (nopRecorder) TokenRefreshed(string)                                       {}
func (nopRecorder) UserSynced(string, string, time.Duration, *grade.ChangeSet) {}

// Outcome labels shared by logs and metrics.
const (
	OutcomeOK        = "ok"
	OutcomeNoData    = "no_data"
	OutcomeSkipped   = "skipped"
	OutcomeRefreshed = "refreshed"
)
