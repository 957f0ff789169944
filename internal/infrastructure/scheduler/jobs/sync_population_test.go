package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

type staticLister struct {
	ids []account.UserID
	err error
}

func (l staticLister) ListWithSession(context.Context) ([]account.UserID, error) {
	return l.ids, l.err
}

type scriptedSyncer struct {
	mu      sync.Mutex
	calls   []account.UserID
	results map[account.UserID]func() (*grade.ChangeSet, error)

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (s *scriptedSyncer) Handle(_ context.Context, cmd command.SyncUserCommand) (*grade.ChangeSet, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls = append(s.calls, cmd.UserID)
	fn := s.results[cmd.UserID]
	s.mu.Unlock()

	if fn == nil {
		empty := grade.Diff(nil, nil)
		return &empty, nil
	}
	return fn()
}

type passCounter struct {
	synced, failed, skipped int
}

func (p *passCounter) PassCompleted(_ time.Duration, synced, failed, skipped int) {
	p.synced, p.failed, p.skipped = synced, failed, skipped
}

func changed() (*grade.ChangeSet, error) {
	cs := grade.Diff(nil, []grade.Record{{LessonID: "L1", Mark: "10"}})
	return &cs, nil
}

func TestRun_FailureDoesNotStopPass(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)

	syncer := &scriptedSyncer{results: map[account.UserID]func() (*grade.ChangeSet, error){
		1: changed,
		2: func() (*grade.ChangeSet, error) {
			return nil, &grade.RemoteFetchError{Endpoint: "student-performance", Status: 502}
		},
		3: changed,
		4: func() (*grade.ChangeSet, error) { return nil, nil },
	}}
	rec := &passCounter{}

	dispatcher.EXPECT().Dispatch(gomock.Any(), account.UserID(1), gomock.Any()).Return(nil)
	dispatcher.EXPECT().Dispatch(gomock.Any(), account.UserID(3), gomock.Any()).Return(errors.New("telegram down"))

	job := NewSyncPopulationJob(staticLister{ids: []account.UserID{1, 2, 3, 4}}, syncer, dispatcher, rec, logger.Nop(), SyncPopulationConfig{})
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []account.UserID{1, 2, 3, 4}, syncer.calls, "sequential pass keeps order")
	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.NotEmpty(t, stats.PassID)
	assert.Equal(t, 4, stats.Users)
	assert.Equal(t, 3, stats.Synced)
	assert.Equal(t, 2, stats.Changed)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, stats.Aborted)
	assert.Equal(t, passCounter{synced: 3, failed: 1}, *rec)
}

func TestRun_SkipsUserAlreadySyncing(t *testing.T) {
	syncer := &scriptedSyncer{results: map[account.UserID]func() (*grade.ChangeSet, error){
		7: func() (*grade.ChangeSet, error) { return nil, shared.ErrSyncInProgress },
	}}
	job := NewSyncPopulationJob(staticLister{ids: []account.UserID{7, 8}}, syncer, nil, nil, logger.Nop(), SyncPopulationConfig{})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, job.LastStats().Skipped)
	assert.Equal(t, 1, job.LastStats().Synced)
}

func TestRun_PanicIsContained(t *testing.T) {
	syncer := &scriptedSyncer{results: map[account.UserID]func() (*grade.ChangeSet, error){
		1: func() (*grade.ChangeSet, error) { panic("boom") },
	}}
	job := NewSyncPopulationJob(staticLister{ids: []account.UserID{1, 2}}, syncer, nil, nil, logger.Nop(), SyncPopulationConfig{})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, job.LastStats().Failed)
	assert.Equal(t, 1, job.LastStats().Synced)
}

func TestRun_ListError(t *testing.T) {
	job := NewSyncPopulationJob(staticLister{err: errors.New("db gone")}, &scriptedSyncer{}, nil, nil, logger.Nop(), SyncPopulationConfig{})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list accounts")
	assert.Nil(t, job.LastStats())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	syncer := &scriptedSyncer{}
	job := NewSyncPopulationJob(staticLister{ids: []account.UserID{1, 2}}, syncer, nil, nil, logger.Nop(), SyncPopulationConfig{})

	require.NoError(t, job.Run(ctx))
	assert.Empty(t, syncer.calls)
	assert.True(t, job.LastStats().Aborted)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	ids := make([]account.UserID, 12)
	for i := range ids {
		ids[i] = account.UserID(i + 1)
	}
	syncer := &scriptedSyncer{delay: 10 * time.Millisecond}
	job := NewSyncPopulationJob(staticLister{ids: ids}, syncer, nil, nil, logger.Nop(), SyncPopulationConfig{Concurrency: 3})

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, syncer.calls, 12)
	assert.LessOrEqual(t, syncer.maxActive.Load(), int32(3))
	assert.Equal(t, 12, job.LastStats().Synced)
}

func TestDetach_OutlivesParentWithinGrace(t *testing.T) {
	job := NewSyncPopulationJob(staticLister{}, &scriptedSyncer{}, nil, nil, logger.Nop(), SyncPopulationConfig{ShutdownGrace: 50 * time.Millisecond})

	parent, cancel := context.WithCancel(context.Background())
	dctx, release := job.detach(parent)
	defer release()

	cancel()
	assert.NoError(t, dctx.Err(), "still alive right after parent cancel")

	select {
	case <-dctx.Done():
	case <-time.After(time.Second):
		t.Fatal("detached context was not cancelled after grace")
	}
}
