package grade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		transient bool
		sentinel  error
	}{
		{"auth", &AuthError{Status: 401}, KindAuth, false, shared.ErrUnauthorized},
		{"fetch", &RemoteFetchError{Endpoint: "schedule/diary", Status: 502}, KindFetch, true, shared.ErrExternalService},
		{"decode", &DecodeError{Endpoint: "schedule/diary", Err: errors.New("eof")}, KindDecode, true, shared.ErrInvalidFormat},
		{"range", &InvalidRangeError{Count: 3}, KindRange, false, shared.ErrInvalidArgument},
		{"wrapped fetch", fmt.Errorf("sync: %w", &RemoteFetchError{Endpoint: "x", Status: 500}), KindFetch, true, shared.ErrExternalService},
		{"other", errors.New("boom"), KindInternal, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, ErrorKind(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, tt.err, tt.sentinel)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "authentication failed with status 403", (&AuthError{Status: 403}).Error())
	assert.Equal(t, "authentication failed: missing access_token", (&AuthError{Reason: "missing access_token"}).Error())
	assert.Equal(t, "fetch schedule/diary: unexpected status 500", (&RemoteFetchError{Endpoint: "schedule/diary", Status: 500}).Error())
	assert.Equal(t, "date range needs 1 or 2 dates, got 0", (&InvalidRangeError{}).Error())
}

func TestMarkLabel(t *testing.T) {
	assert.Equal(t, "💩", MarkLabel("1"))
	assert.Equal(t, "😎", MarkLabel("12"))
	assert.Empty(t, MarkLabel("13"))
	assert.Empty(t, MarkLabel("н"))
	assert.Empty(t, MarkLabel(""))
}
