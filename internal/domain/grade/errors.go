package grade

import (
	"errors"
	"fmt"

	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

// AuthError означает отказ удалённого API при входе: неверные учётные данные,
// ответ не 2xx или тело без обязательных полей. Для синхронизации
// пользователя ошибка фатальна, пока он не обновит логин/пароль.
type AuthError struct {
	Status int
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "authentication failed"
	if e.Status != 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == shared.ErrUnauthorized }

// RemoteFetchError означает ответ не 2xx от эндпоинта данных либо сбой транспорта
// (Status == 0). Считается временной: следующий проход повторит запрос.
type RemoteFetchError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *RemoteFetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Endpoint, e.Status)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

func (e *RemoteFetchError) Is(target error) bool { return target == shared.ErrExternalService }

// DecodeError означает, что тело ответа не удалось разобрать. Тоже временная.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == shared.ErrInvalidFormat }

// InvalidRangeError означает, что вызывающий передал не одну и не две даты.
// Это нарушение контракта, корректный код её не получает.
type InvalidRangeError struct {
	Count int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("date range needs 1 or 2 dates, got %d", e.Count)
}

func (e *InvalidRangeError) Is(target error) bool { return target == shared.ErrInvalidArgument }

// Error kinds used in logs and metrics.
const (
	KindAuth     = "auth"
	KindFetch    = "fetch"
	KindDecode   = "decode"
	KindRange    = "range"
	KindInternal = "internal"
)

// ErrorKind classifies err into the taxonomy above.
func ErrorKind(err error) string {
	var (
		authErr   *AuthError
		fetchErr  *RemoteFetchError
		decodeErr *DecodeError
		rangeErr  *InvalidRangeError
	)
	switch {
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &rangeErr):
		return KindRange
	default:
		return KindInternal
	}
}

// IsTransient reports whether the next scheduled pass may succeed without
// user action.
func IsTransient(err error) bool {
	switch ErrorKind(err) {
	case KindFetch, KindDecode:
		return true
	default:
		return false
	}
}

// ErrNoData means the remote returned nothing usable for the window
// (no subjects, no grade events). It is "nothing to report", not a failure.
var ErrNoData = errors.New("no grade data in window")
