package sealer

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpen(t *testing.T) {
	s, err := New(hexKey)
	require.NoError(t, err)

	sealed, err := s.Seal("пароль-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, Prefix))
	assert.NotContains(t, sealed, "пароль")

	again, err := s.Seal("пароль-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "fresh nonce per seal")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "пароль-123", plain)
}

func TestOpen_PlaintextPassesThrough(t *testing.T) {
	s, err := New(hexKey)
	require.NoError(t, err)

	got, err := s.Open("legacy-password")
	require.NoError(t, err)
	assert.Equal(t, "legacy-password", got)
}

func TestOpen_WrongKey(t *testing.T) {
	a, err := New(hexKey)
	require.NoError(t, err)
	b, err := New(base64.StdEncoding.EncodeToString([]byte("abcdefghijklmnopqrstuvwxyz012345")))
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = a.Open(Prefix + "AAAA")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNilSealer(t *testing.T) {
	var s *Sealer

	v, err := s.Seal("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = s.Open(Prefix + "AAAA")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNew_RejectsBadKeys(t *testing.T) {
	for _, k := range []string{"", "short", hexKey[:62]} {
		_, err := New(k)
		assert.ErrorIs(t, err, ErrInvalidKey, k)
	}
}
