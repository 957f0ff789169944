package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/application/command/mocks"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/persistence/memory"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

type syncFixture struct {
	repo     *memory.AccountRepository
	auth     *mocks.MockAuthenticator
	source   *mocks.MockGradeSource
	locker   *mocks.MockLocker
	sessions *command.SessionManager
	handler  *command.SyncUserHandler
}

func newSyncFixture(t *testing.T, withLocker bool) *syncFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &syncFixture{
		repo:   memory.NewAccountRepository(),
		auth:   mocks.NewMockAuthenticator(ctrl),
		source: mocks.NewMockGradeSource(ctrl),
	}
	f.source.EXPECT().Name().Return("subjects").AnyTimes()

	var locker command.Locker
	if withLocker {
		f.locker = mocks.NewMockLocker(ctrl)
		locker = f.locker
	}

	f.sessions = newLockedSessionManager(f.repo, f.auth, locker)
	f.handler = command.NewSyncUserHandler(f.repo, f.sessions, f.source, nil, logger.Nop(),
		command.SyncUserHandlerConfig{Timeout: time.Minute, Now: clock})

	require.NoError(t, f.repo.Save(context.Background(), sessionAccount(t, testNow.Add(90*24*time.Hour))))
	return f
}

func (f *syncFixture) snapshot(t *testing.T) []grade.Record {
	t.Helper()
	acc, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	return acc.Snapshot.Lessons
}

func (f *syncFixture) seed(t *testing.T, records []grade.Record) {
	t.Helper()
	acc, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(context.Background(), acc.WithSnapshot(records, testNow)))
}

func rec(id, mark string) grade.Record {
	return grade.Record{LessonID: id, Subject: "Алгебра", LessonDate: "2024-10-15", Mark: mark}
}

var sync42 = command.SyncUserCommand{UserID: 42}

func TestSyncUser_FirstSyncPersistsSnapshot(t *testing.T) {
	f := newSyncFixture(t, false)
	current := []grade.Record{rec("L1", "10"), rec("L2", "7")}
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return(current, nil)

	cs, err := f.handler.Handle(context.Background(), sync42)

	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, current, cs.New)
	assert.Empty(t, cs.Updated)
	assert.Empty(t, cs.Removed)
	assert.Equal(t, current, f.snapshot(t))
}

func TestSyncUser_SecondSyncIsEmpty(t *testing.T) {
	f := newSyncFixture(t, false)
	current := []grade.Record{rec("L1", "10"), rec("L2", "7")}
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return(current, nil).Times(2)

	_, err := f.handler.Handle(context.Background(), sync42)
	require.NoError(t, err)

	cs, err := f.handler.Handle(context.Background(), sync42)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.True(t, cs.IsEmpty())
}

func TestSyncUser_UpdatedAndNew(t *testing.T) {
	f := newSyncFixture(t, false)
	f.seed(t, []grade.Record{rec("L1", "3")})
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return([]grade.Record{rec("L1", "4"), rec("L2", "5")}, nil)

	cs, err := f.handler.Handle(context.Background(), sync42)

	require.NoError(t, err)
	assert.Equal(t, []grade.Record{rec("L2", "5")}, cs.New)
	assert.Equal(t, []grade.Update{{Old: rec("L1", "3"), New: rec("L1", "4")}}, cs.Updated)
	assert.Empty(t, cs.Removed)
}

func TestSyncUser_EmptyChangeSetStillCommitsBaseline(t *testing.T) {
	f := newSyncFixture(t, false)
	f.seed(t, []grade.Record{rec("L1", "3"), rec("L2", "5")})
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return([]grade.Record{rec("L1", "3")}, nil)

	cs, err := f.handler.Handle(context.Background(), sync42)

	require.NoError(t, err)
	assert.Equal(t, []grade.Record{rec("L2", "5")}, cs.Removed)
	assert.Equal(t, []grade.Record{rec("L1", "3")}, f.snapshot(t))
}

func TestSyncUser_FetchErrorLeavesSnapshot(t *testing.T) {
	f := newSyncFixture(t, false)
	prev := []grade.Record{rec("L1", "3")}
	f.seed(t, prev)
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).
		Return(nil, &grade.RemoteFetchError{Endpoint: "schedule/subject-grades", Status: 500})

	cs, err := f.handler.Handle(context.Background(), sync42)

	assert.Nil(t, cs)
	var fetchErr *grade.RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, grade.IsTransient(err))
	assert.Equal(t, prev, f.snapshot(t))
}

func TestSyncUser_NoDataIsNotAnError(t *testing.T) {
	f := newSyncFixture(t, false)
	prev := []grade.Record{rec("L1", "3")}
	f.seed(t, prev)
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return(nil, grade.ErrNoData)

	cs, err := f.handler.Handle(context.Background(), sync42)

	require.NoError(t, err)
	assert.Nil(t, cs)
	assert.Equal(t, prev, f.snapshot(t))
}

func TestSyncUser_RefreshFailureSkipsFetch(t *testing.T) {
	f := newSyncFixture(t, false)
	acc, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	acc.Session.ExpiresAt = testNow.Add(time.Hour).Unix()
	require.NoError(t, f.repo.Save(context.Background(), acc))

	f.auth.EXPECT().Login(gomock.Any(), gomock.Any()).Return(account.LoginResult{}, &grade.AuthError{Status: 401})

	_, err = f.handler.Handle(context.Background(), sync42)

	assert.Equal(t, grade.KindAuth, grade.ErrorKind(err))
}

func TestSyncUser_RefreshesBeforeFetch(t *testing.T) {
	f := newSyncFixture(t, false)
	acc, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	acc.Session.ExpiresAt = testNow.Add(24 * 24 * time.Hour).Unix()
	require.NoError(t, f.repo.Save(context.Background(), acc))

	gomock.InOrder(
		f.auth.EXPECT().Login(gomock.Any(), gomock.Any()).
			Return(account.LoginResult{FullName: "Олена", StudentID: 7, AccessToken: "fresh", ExpiresAt: testNow.Add(90 * 24 * time.Hour).Unix()}, nil),
		f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, acc *account.Account) ([]grade.Record, error) {
				assert.Equal(t, "fresh", acc.Session.AccessToken)
				return []grade.Record{rec("L1", "9")}, nil
			}),
	)

	_, err = f.handler.Handle(context.Background(), sync42)
	require.NoError(t, err)

	stored, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Session.AccessToken)
	assert.Len(t, stored.Snapshot.Lessons, 1)
}

func TestSyncUser_UnknownUser(t *testing.T) {
	f := newSyncFixture(t, false)

	_, err := f.handler.Handle(context.Background(), command.SyncUserCommand{UserID: 999})
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)
}

func TestSyncUser_SameUserIsNotInterleaved(t *testing.T) {
	f := newSyncFixture(t, false)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *account.Account) ([]grade.Record, error) {
			close(entered)
			<-release
			return []grade.Record{rec("L1", "5")}, nil
		})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = f.handler.Handle(context.Background(), sync42)
	}()

	<-entered
	_, err := f.handler.Handle(context.Background(), sync42)
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
}

func TestSyncUser_DistributedLock(t *testing.T) {
	f := newSyncFixture(t, true)

	gomock.InOrder(
		f.locker.EXPECT().TryLock(gomock.Any(), command.LockKey(42), gomock.Any()).Return("tok-1", true, nil),
		f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).Return([]grade.Record{rec("L1", "5")}, nil),
		f.locker.EXPECT().Unlock(gomock.Any(), command.LockKey(42), "tok-1").Return(nil),
	)

	_, err := f.handler.Handle(context.Background(), sync42)
	require.NoError(t, err)
}

func TestSyncUser_LockHeldElsewhere(t *testing.T) {
	f := newSyncFixture(t, true)
	f.locker.EXPECT().TryLock(gomock.Any(), gomock.Any(), gomock.Any()).Return("", false, nil)

	_, err := f.handler.Handle(context.Background(), sync42)
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	f.locker.EXPECT().TryLock(gomock.Any(), gomock.Any(), gomock.Any()).Return("", false, errors.New("redis down"))
	_, err = f.handler.Handle(context.Background(), sync42)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrSyncInProgress)
}

// holdCollect makes the next Collect block until the returned release is closed.
func (f *syncFixture) holdCollect(records []grade.Record) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	f.source.EXPECT().Collect(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *account.Account) ([]grade.Record, error) {
			close(entered)
			<-release
			return records, nil
		})
	return entered, release
}

func (f *syncFixture) handleAsync() (wait func() error) {
	done := make(chan error, 1)
	go func() {
		_, err := f.handler.Handle(context.Background(), sync42)
		done <- err
	}()
	return func() error { return <-done }
}

func TestSyncUser_LogoutDuringSyncIsRefused(t *testing.T) {
	f := newSyncFixture(t, false)
	entered, release := f.holdCollect([]grade.Record{rec("L1", "5")})

	wait := f.handleAsync()
	<-entered

	err := f.sessions.Logout(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	close(release)
	require.NoError(t, wait())

	require.NoError(t, f.sessions.Logout(context.Background(), 42))
	_, err = f.repo.Get(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)
	ids, err := f.repo.ListWithSession(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSyncUser_SetCredentialsDuringSyncIsRefused(t *testing.T) {
	f := newSyncFixture(t, false)
	entered, release := f.holdCollect([]grade.Record{rec("L1", "5")})

	wait := f.handleAsync()
	<-entered

	_, err := f.sessions.SetCredentials(context.Background(), command.SetCredentialsCommand{
		UserID: 42, Login: "fresh", Password: "pw2",
	})
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	close(release)
	require.NoError(t, wait())

	f.auth.EXPECT().Login(gomock.Any(), account.Credentials{Login: "fresh", Password: "pw2"}).
		Return(account.LoginResult{FullName: "Олена", StudentID: 7, AccessToken: "t2", ExpiresAt: testNow.Add(90 * 24 * time.Hour).Unix()}, nil)
	_, err = f.sessions.SetCredentials(context.Background(), command.SetCredentialsCommand{
		UserID: 42, Login: "fresh", Password: "pw2",
	})
	require.NoError(t, err)

	stored, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Credentials.Login)
	assert.Equal(t, []grade.Record{rec("L1", "5")}, stored.Snapshot.Lessons)
}

func TestSyncUser_AccountDeletedElsewhereIsNotRevived(t *testing.T) {
	f := newSyncFixture(t, false)
	entered, release := f.holdCollect([]grade.Record{rec("L1", "5")})

	wait := f.handleAsync()
	<-entered

	// another process sharing the store, without a shared lock
	require.NoError(t, f.repo.Delete(context.Background(), 42))

	close(release)
	assert.ErrorIs(t, wait(), shared.ErrAccountNotFound)

	_, err := f.repo.Get(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)
}

func TestSyncUser_CredentialsChangedElsewhereAreKept(t *testing.T) {
	f := newSyncFixture(t, false)
	prev := []grade.Record{rec("L1", "3")}
	f.seed(t, prev)
	entered, release := f.holdCollect([]grade.Record{rec("L1", "5")})

	wait := f.handleAsync()
	<-entered

	acc, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	changed := acc.WithCredentials(account.Credentials{Login: "fresh", Password: "pw2"}, testNow.Add(time.Minute))
	require.NoError(t, f.repo.Save(context.Background(), changed))

	close(release)
	err = wait()
	assert.ErrorIs(t, err, shared.ErrStaleAccount)
	assert.ErrorIs(t, err, shared.ErrConflict)

	stored, err := f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Credentials.Login)
	assert.Equal(t, prev, stored.Snapshot.Lessons)
}

func TestSyncUser_CredentialUpdatesTakeDistributedLock(t *testing.T) {
	f := newSyncFixture(t, true)

	f.locker.EXPECT().TryLock(gomock.Any(), command.LockKey(42), gomock.Any()).Return("", false, nil).Times(2)

	_, err := f.sessions.SetCredentials(context.Background(), command.SetCredentialsCommand{
		UserID: 42, Login: "fresh", Password: "pw2",
	})
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	err = f.sessions.Logout(context.Background(), 42)
	assert.ErrorIs(t, err, shared.ErrSyncInProgress)

	_, err = f.repo.Get(context.Background(), 42)
	require.NoError(t, err)
}
