package command

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// DefaultLockTTL is the lease of the distributed per-user lock.
const DefaultLockTTL = 3 * time.Minute

// UserLocks serializes every write to one account: credential updates,
// logout and sync all hold the same per-user lock. An in-process guard
// admits one holder per user; the optional Locker extends it across
// processes sharing the store.
type UserLocks struct {
	guard  *keyedGuard
	locker Locker
	ttl    time.Duration
	logger *logger.Logger
}

// NewUserLocks creates a lock set. locker may be nil.
func NewUserLocks(locker Locker, ttl time.Duration, log *logger.Logger) *UserLocks {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = logger.Default()
	}
	return &UserLocks{
		guard:  newKeyedGuard(),
		locker: locker,
		ttl:    ttl,
		logger: log.With(logger.Component("userlock")),
	}
}

// TryAcquire takes the lock of one user without waiting. It fails with
// shared.ErrSyncInProgress when the user is held here or elsewhere.
// The returned release must be called exactly once.
func (l *UserLocks) TryAcquire(ctx context.Context, id account.UserID) (func(), error) {
	if !l.guard.tryAcquire(id) {
		return nil, shared.ErrSyncInProgress
	}
	if l.locker == nil {
		return func() { l.guard.release(id) }, nil
	}

	key := LockKey(id)
	token, ok, err := l.locker.TryLock(ctx, key, l.ttl)
	if err != nil {
		l.guard.release(id)
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		l.guard.release(id)
		return nil, shared.ErrSyncInProgress
	}

	return func() {
		// the caller may already be cancelled; the lock must still go
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.locker.Unlock(unlockCtx, key, token); err != nil {
			l.logger.Warn("release lock failed", logger.String("key", key), logger.Err(err))
		}
		l.guard.release(id)
	}, nil
}

// LockKey is the distributed lock key of one user's account.
func LockKey(id account.UserID) string {
	return "sync:user:" + strconv.FormatInt(int64(id), 10)
}

// keyedGuard admits at most one holder per user id.
type keyedGuard struct {
	mu   sync.Mutex
	held map[account.UserID]struct{}
}

func newKeyedGuard() *keyedGuard {
	return &keyedGuard{held: make(map[account.UserID]struct{})}
}

func (g *keyedGuard) tryAcquire(id account.UserID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[id]; busy {
		return false
	}
	g.held[id] = struct{}{}
	return true
}

func (g *keyedGuard) release(id account.UserID) {
	g.mu.Lock()
	delete(g.held, id)
	g.mu.Unlock()
}
