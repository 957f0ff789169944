package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FETCH RANGE QUERY
// Сырые данные дневника, расписания, успеваемости и пропусков за период.
// Токен обновляется заранее, как и при синхронизации.
// ══════════════════════════════════════════════════════════════════════════════

// TokenKeeper продлевает сессию до запроса.
type TokenKeeper interface {
	EnsureFreshToken(ctx context.Context, acc *account.Account) (*account.Account, error)
}

// RangeFetcher выполняет запрос к одному из эндпоинтов с диапазоном дат.
type RangeFetcher interface {
	FetchRange(ctx context.Context, acc *account.Account, kind string, dates ...string) (json.RawMessage, error)
}

// FetchRangeQuery содержит параметры запроса.
type FetchRangeQuery struct {
	UserID account.UserID
	Kind   string

	// Dates - одна дата (один день) или две (включительный диапазон).
	Dates []string
}

// Validate проверяет корректность параметров запроса.
// Количество дат проверяет сам клиент API.
func (q FetchRangeQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if q.Kind == "" {
		return fmt.Errorf("%w: kind is required", shared.ErrInvalidArgument)
	}
	return nil
}

// FetchRangeHandler обрабатывает FetchRangeQuery.
type FetchRangeHandler struct {
	repo    account.Repository
	tokens  TokenKeeper
	fetcher RangeFetcher
}

// NewFetchRangeHandler создаёт обработчик.
func NewFetchRangeHandler(repo account.Repository, tokens TokenKeeper, fetcher RangeFetcher) *FetchRangeHandler {
	return &FetchRangeHandler{repo: repo, tokens: tokens, fetcher: fetcher}
}

// Handle выполняет запрос и возвращает тело ответа как есть.
func (h *FetchRangeHandler) Handle(ctx context.Context, q FetchRangeQuery) (json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("fetch_range: %w", err)
	}

	acc, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch_range: %w", err)
	}

	acc, err = h.tokens.EnsureFreshToken(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("fetch_range: %w", err)
	}

	body, err := h.fetcher.FetchRange(ctx, acc, q.Kind, q.Dates...)
	if err != nil {
		return nil, fmt.Errorf("fetch_range %s: %w", q.Kind, err)
	}
	return body, nil
}
