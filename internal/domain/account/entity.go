// Package account содержит доменную модель учётной записи пользователя:
// идентичность, учётные данные дневника, сессию и последний снимок оценок.
//
// Учётная запись служит единицей хранения и единицей конкурентности: одновременно
// по одному пользователю выполняется не больше одной синхронизации.
// Значения Account неизменяемы по договорённости: методы With* возвращают
// новую копию, а сохранение происходит одним вызовом репозитория.
package account

import (
	"strings"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UserID хранит внешний числовой идентификатор пользователя (например, chat id).
type UserID int64

// IsValid проверяет, что идентификатор положительный.
func (u UserID) IsValid() bool {
	return u > 0
}

// Credentials содержит логин и пароль от дневника.
type Credentials struct {
	Login    string
	Password string
}

// IsComplete сообщает, что заданы и логин, и пароль.
func (c Credentials) IsComplete() bool {
	return strings.TrimSpace(c.Login) != "" && c.Password != ""
}

// Profile заполняется только после успешного входа.
// Имя и идентификатор ученика всегда приходят вместе.
type Profile struct {
	FullName  string
	StudentID int64
}

// Session хранит bearer-токен и момент его истечения (секунды Unix).
type Session struct {
	AccessToken string
	ExpiresAt   int64
}

// ExpiryTime возвращает момент истечения токена.
func (s Session) ExpiryTime() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// LoginResult описывает ответ удалённого API на вход.
type LoginResult struct {
	FullName    string `json:"FIO"`
	ExpiresAt   int64  `json:"expires_token"`
	StudentID   int64  `json:"student_id"`
	AccessToken string `json:"access_token"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Account описывает учётную запись пользователя.
type Account struct {
	ID          UserID
	Credentials Credentials
	Profile     *Profile
	Session     *Session
	Snapshot    grade.Snapshot
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New создаёт пустую учётную запись.
func New(id UserID, now time.Time) (*Account, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	return &Account{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// Clone возвращает глубокую копию.
func (a *Account) Clone() *Account {
	c := *a
	if a.Profile != nil {
		p := *a.Profile
		c.Profile = &p
	}
	if a.Session != nil {
		s := *a.Session
		c.Session = &s
	}
	c.Snapshot = grade.NewSnapshot(a.Snapshot.Lessons)
	return &c
}

// WithCredentials возвращает копию с новыми учётными данными.
func (a *Account) WithCredentials(creds Credentials, now time.Time) *Account {
	c := a.Clone()
	c.Credentials = creds
	c.UpdatedAt = now
	return c
}

// WithLogin возвращает копию с профилем и сессией из ответа на вход.
func (a *Account) WithLogin(res LoginResult, now time.Time) *Account {
	c := a.Clone()
	c.Profile = &Profile{FullName: res.FullName, StudentID: res.StudentID}
	c.Session = &Session{AccessToken: res.AccessToken, ExpiresAt: res.ExpiresAt}
	c.UpdatedAt = now
	return c
}

// WithSnapshot возвращает копию с новым снимком оценок.
func (a *Account) WithSnapshot(records []grade.Record, now time.Time) *Account {
	c := a.Clone()
	c.Snapshot = grade.NewSnapshot(records)
	c.UpdatedAt = now
	return c
}

// HasSession сообщает, что у записи есть токен (запись участвует в фоновом опросе).
func (a *Account) HasSession() bool {
	return a.Session != nil && a.Session.AccessToken != ""
}

// NeedsRefresh сообщает, что токен истекает не позже, чем через horizon.
// Без сессии обновление нужно всегда.
func (a *Account) NeedsRefresh(now time.Time, horizon time.Duration) bool {
	if !a.HasSession() {
		return true
	}
	limit := now.Add(horizon).Unix()
	return a.Session.ExpiresAt <= limit
}

// StudentID возвращает идентификатор ученика или 0 до первого входа.
func (a *Account) StudentID() int64 {
	if a.Profile == nil {
		return 0
	}
	return a.Profile.StudentID
}

// DisplayName возвращает ФИО или пустую строку до первого входа.
func (a *Account) DisplayName() string {
	if a.Profile == nil {
		return ""
	}
	return a.Profile.FullName
}
