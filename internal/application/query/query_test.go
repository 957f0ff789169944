package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzua-hub/grade-notifier/internal/application/query"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/persistence/memory"
)

func seeded(t *testing.T) *memory.AccountRepository {
	t.Helper()
	repo := memory.NewAccountRepository()
	acc, err := account.New(42, time.Now())
	require.NoError(t, err)
	acc = acc.
		WithCredentials(account.Credentials{Login: "olena", Password: "pw"}, time.Now()).
		WithLogin(account.LoginResult{FullName: "Олена", StudentID: 7, AccessToken: "tok", ExpiresAt: 1893456000}, time.Now()).
		WithSnapshot([]grade.Record{{LessonID: "L1"}, {LessonID: "L2"}}, time.Now())
	require.NoError(t, repo.Save(context.Background(), acc))
	return repo
}

func TestGetProfile(t *testing.T) {
	h := query.NewGetProfileHandler(seeded(t))

	dto, err := h.Handle(context.Background(), query.GetProfileQuery{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, "Олена", dto.FullName)
	assert.Equal(t, "olena", dto.Login)
	assert.EqualValues(t, 7, dto.StudentID)
	assert.True(t, dto.Authorized)
	assert.Equal(t, 2, dto.GradesTracked)
	require.NotNil(t, dto.TokenExpiresAt)
	assert.EqualValues(t, 1893456000, dto.TokenExpiresAt.Unix())

	raw, err := json.Marshal(dto)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "pw")
	assert.NotContains(t, string(raw), "tok\"")
}

func TestGetProfile_Missing(t *testing.T) {
	h := query.NewGetProfileHandler(memory.NewAccountRepository())

	_, err := h.Handle(context.Background(), query.GetProfileQuery{UserID: 1})
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)
}

type passThroughKeeper struct{ calls int }

func (k *passThroughKeeper) EnsureFreshToken(_ context.Context, acc *account.Account) (*account.Account, error) {
	k.calls++
	return acc, nil
}

type recordingFetcher struct {
	kind  string
	dates []string
	err   error
}

func (f *recordingFetcher) FetchRange(_ context.Context, _ *account.Account, kind string, dates ...string) (json.RawMessage, error) {
	f.kind, f.dates = kind, dates
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestFetchRange(t *testing.T) {
	keeper := &passThroughKeeper{}
	fetcher := &recordingFetcher{}
	h := query.NewFetchRangeHandler(seeded(t), keeper, fetcher)

	body, err := h.Handle(context.Background(), query.FetchRangeQuery{UserID: 42, Kind: "diary", Dates: []string{"2024-10-16"}})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, keeper.calls)
	assert.Equal(t, "diary", fetcher.kind)
	assert.Equal(t, []string{"2024-10-16"}, fetcher.dates)
}

func TestFetchRange_PropagatesTypedErrors(t *testing.T) {
	fetcher := &recordingFetcher{err: &grade.InvalidRangeError{Count: 3}}
	h := query.NewFetchRangeHandler(seeded(t), &passThroughKeeper{}, fetcher)

	_, err := h.Handle(context.Background(), query.FetchRangeQuery{UserID: 42, Kind: "diary", Dates: []string{"a", "b", "c"}})

	var rangeErr *grade.InvalidRangeError
	assert.True(t, errors.As(err, &rangeErr))
}

func TestFetchRange_Validation(t *testing.T) {
	h := query.NewFetchRangeHandler(seeded(t), &passThroughKeeper{}, &recordingFetcher{})

	_, err := h.Handle(context.Background(), query.FetchRangeQuery{UserID: 42})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}
