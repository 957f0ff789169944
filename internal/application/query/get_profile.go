// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Профиль пользователя: ФИО, логин, ученик и срок действия токена.
// Пароль и токен наружу не отдаются.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery содержит параметры запроса профиля.
type GetProfileQuery struct {
	UserID account.UserID
}

// Validate проверяет корректность параметров запроса.
func (q GetProfileQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// ProfileDTO - представление профиля для CLI и HTTP.
type ProfileDTO struct {
	UserID         int64      `json:"user_id"`
	FullName       string     `json:"full_name"`
	Login          string     `json:"login"`
	StudentID      int64      `json:"student_id"`
	Authorized     bool       `json:"authorized"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	// GradesTracked - размер текущего снимка оценок.
	GradesTracked int       `json:"grades_tracked"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetProfileHandler обрабатывает GetProfileQuery.
type GetProfileHandler struct {
	repo account.Repository
}

// NewGetProfileHandler создаёт обработчик.
func NewGetProfileHandler(repo account.Repository) *GetProfileHandler {
	return &GetProfileHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_profile: %w", err)
	}

	acc, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_profile: %w", err)
	}

	dto := &ProfileDTO{
		UserID:        int64(acc.ID),
		FullName:      acc.DisplayName(),
		Login:         acc.Credentials.Login,
		StudentID:     acc.StudentID(),
		Authorized:    acc.HasSession(),
		GradesTracked: acc.Snapshot.Len(),
		UpdatedAt:     acc.UpdatedAt,
	}
	if acc.Session != nil {
		exp := acc.Session.ExpiryTime()
		dto.TokenExpiresAt = &exp
	}
	return dto, nil
}
