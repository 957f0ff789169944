package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nzua-hub/grade-notifier/internal/application/command/mocks"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

type resultLog struct {
	mu      sync.Mutex
	results map[string]error
}

func (r *resultLog) Dispatched(channel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[channel] = err
}

type panicky struct{}

func (panicky) Dispatch(context.Context, account.UserID, grade.ChangeSet) error { panic("boom") }

type slow struct{}

func (slow) Dispatch(ctx context.Context, _ account.UserID, _ grade.ChangeSet) error {
	<-ctx.Done()
	return ctx.Err()
}

func someChanges() grade.ChangeSet {
	return grade.Diff(nil, []grade.Record{{LessonID: "L1", Mark: "9"}})
}

func TestDispatch_FailureIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)
	ok := mocks.NewMockDispatcher(ctrl)
	bad := mocks.NewMockDispatcher(ctrl)
	cs := someChanges()

	ok.EXPECT().Dispatch(gomock.Any(), account.UserID(42), cs).Return(nil)
	bad.EXPECT().Dispatch(gomock.Any(), account.UserID(42), cs).Return(errors.New("redis down"))

	rec := &resultLog{results: map[string]error{}}
	d := NewDispatcher(DispatcherConfig{Logger: logger.Nop()})
	d.Use(MetricsMiddleware(rec))
	require.NoError(t, d.Register(Registration{Name: "telegram", Channel: ok}))
	require.NoError(t, d.Register(Registration{Name: "redis", Channel: bad}))

	err := d.Dispatch(context.Background(), 42, cs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: redis down")
	assert.NoError(t, rec.results["telegram"])
	assert.Error(t, rec.results["redis"])

	names := d.Channels()
	sort.Strings(names)
	assert.Equal(t, []string{"redis", "telegram"}, names)
}

func TestDispatch_EmptyChangeSetIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocks.NewMockDispatcher(ctrl)

	d := NewDispatcher(DispatcherConfig{Logger: logger.Nop()})
	require.NoError(t, d.Register(Registration{Name: "telegram", Channel: ch}))

	assert.NoError(t, d.Dispatch(context.Background(), 42, grade.Diff(nil, nil)))
}

func TestDispatch_PanicRecovered(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: logger.Nop()})
	require.NoError(t, d.Register(Registration{Name: "broken", Channel: panicky{}}))

	err := d.Dispatch(context.Background(), 1, someChanges())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel panic")
}

func TestDispatch_PerChannelTimeout(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: logger.Nop()})
	require.NoError(t, d.Register(Registration{Name: "slow", Channel: slow{}, Timeout: 10 * time.Millisecond}))

	err := d.Dispatch(context.Background(), 1, someChanges())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegister_Validation(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: logger.Nop()})
	assert.Error(t, d.Register(Registration{Name: "x"}))
	assert.Error(t, d.Register(Registration{Channel: slow{}}))
	require.NoError(t, d.Register(Registration{Name: "x", Channel: slow{}}))
	assert.Error(t, d.Register(Registration{Name: "x", Channel: slow{}}))
}
