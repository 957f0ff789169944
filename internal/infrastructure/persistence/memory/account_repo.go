// Package memory provides an in-process account store for tests,
// local runs and the CLI when no database is configured.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

// AccountRepository implements account.Repository in memory.
// Stored values are cloned on the way in and out.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[account.UserID]*account.Account
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[account.UserID]*account.Account)}
}

func (r *AccountRepository) Get(_ context.Context, id account.UserID) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (r *AccountRepository) Save(_ context.Context, acc *account.Account) error {
	if acc == nil || !acc.ID.IsValid() {
		return shared.ErrInvalidUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := acc.Clone()
	if prev, ok := r.accounts[acc.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	r.accounts[acc.ID] = stored
	return nil
}

func (r *AccountRepository) CommitSnapshot(_ context.Context, acc *account.Account, prev time.Time) error {
	if acc == nil || !acc.ID.IsValid() {
		return shared.ErrInvalidUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[acc.ID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	if !stored.UpdatedAt.Equal(prev) {
		return shared.ErrStaleAccount
	}
	stored.Snapshot = grade.NewSnapshot(acc.Snapshot.Lessons)
	stored.UpdatedAt = acc.UpdatedAt
	return nil
}

func (r *AccountRepository) Delete(_ context.Context, id account.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return shared.ErrAccountNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *AccountRepository) ListWithSession(_ context.Context) ([]account.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]account.UserID, 0, len(r.accounts))
	for id, acc := range r.accounts {
		if acc.HasSession() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Ping implements the health check contract.
func (r *AccountRepository) Ping(context.Context) error { return nil }

var _ account.Repository = (*AccountRepository)(nil)
