package account

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища. Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит учётные записи. Хранилище общее для всех пользователей,
// но физически разделено по UserID: межпользовательские блокировки не нужны.
type Repository interface {
	// Get возвращает запись по идентификатору.
	// Возвращает shared.ErrAccountNotFound, если записи нет.
	Get(ctx context.Context, id UserID) (*Account, error)

	// Save атомарно записывает состояние целиком (upsert).
	// Частичных записей не бывает.
	Save(ctx context.Context, acc *Account) error

	// CommitSnapshot записывает только снимок и UpdatedAt из acc, если
	// хранимая запись не менялась с момента чтения (её UpdatedAt равен prev).
	// Возвращает shared.ErrStaleAccount, если запись изменилась, и
	// shared.ErrAccountNotFound, если её удалили.
	CommitSnapshot(ctx context.Context, acc *Account, prev time.Time) error

	// Delete удаляет запись вместе с учётными данными и снимком.
	// Возвращает shared.ErrAccountNotFound, если записи нет.
	Delete(ctx context.Context, id UserID) error

	// ListWithSession возвращает идентификаторы записей, у которых есть токен,
	// в порядке возрастания.
	ListWithSession(ctx context.Context) ([]UserID, error)
}
