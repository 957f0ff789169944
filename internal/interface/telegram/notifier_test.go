package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	tgapi "github.com/nzua-hub/grade-notifier/internal/infrastructure/external/telegram"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

type fakeSender struct {
	sent  []string
	chats []int64
	fail  map[int]error
}

func (f *fakeSender) SendHTML(_ context.Context, chatID int64, html string) (*tgapi.Message, error) {
	i := len(f.sent)
	f.sent = append(f.sent, html)
	f.chats = append(f.chats, chatID)
	if err := f.fail[i]; err != nil {
		return nil, err
	}
	return &tgapi.Message{MessageID: int64(i + 1)}, nil
}

func changeSet() grade.ChangeSet {
	return grade.Diff(
		[]grade.Record{{LessonID: "A", Mark: "5"}, {LessonID: "R", Mark: "1"}},
		[]grade.Record{{LessonID: "A", Mark: "6"}, {LessonID: "B", Mark: "9"}, {LessonID: "C", Mark: "11"}},
	)
}

func TestNotifier_SendsOnePerNewAndUpdated(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{MessagesPerSecond: 1000, Burst: 10}, logger.Nop())

	require.NoError(t, n.Dispatch(context.Background(), 42, changeSet()))
	require.Len(t, sender.sent, 3, "two new, one updated, removed not announced")
	assert.Equal(t, []int64{42, 42, 42}, sender.chats)
	assert.Contains(t, sender.sent[0], "Новая оценка!")
	assert.Contains(t, sender.sent[2], "Изменение оценки!")
	assert.Equal(t, "telegram", n.Name())
}

func TestNotifier_ContinuesAfterTransientFailure(t *testing.T) {
	sender := &fakeSender{fail: map[int]error{0: &tgapi.APIError{Code: 502, Description: "Bad Gateway"}}}
	n := NewNotifier(sender, NotifierConfig{MessagesPerSecond: 1000, Burst: 10}, logger.Nop())

	err := n.Dispatch(context.Background(), 42, changeSet())
	require.Error(t, err)
	assert.Len(t, sender.sent, 3)

	var apiErr *tgapi.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestNotifier_StopsWhenBlocked(t *testing.T) {
	sender := &fakeSender{fail: map[int]error{0: &tgapi.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}}}
	n := NewNotifier(sender, NotifierConfig{MessagesPerSecond: 1000, Burst: 10}, logger.Nop())

	err := n.Dispatch(context.Background(), 42, changeSet())
	require.Error(t, err)
	assert.Len(t, sender.sent, 1)
	assert.True(t, tgapi.IsUserBlocked(err))
}

func TestNotifier_EmptyChangeSet(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, DefaultNotifierConfig(), logger.Nop())

	require.NoError(t, n.Dispatch(context.Background(), 42, grade.Diff(nil, nil)))
	assert.Empty(t, sender.sent)
}
