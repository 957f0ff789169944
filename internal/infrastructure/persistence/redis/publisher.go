package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
)

// ChangeMessage is the pub/sub payload for one user's change-set.
type ChangeMessage struct {
	UserID    int64           `json:"user_id"`
	Changes   grade.ChangeSet `json:"changes"`
	Published time.Time       `json:"published_at"`
}

// Publisher sends change-sets to a pub/sub channel for other consumers.
type Publisher struct {
	cache   *Cache
	channel string
	now     func() time.Time
}

// NewPublisher creates a Publisher. An empty channel means ChannelChanges.
func NewPublisher(cache *Cache, channel string) *Publisher {
	if channel == "" {
		channel = ChannelChanges
	}
	return &Publisher{cache: cache, channel: channel, now: time.Now}
}

// Name identifies the channel in logs.
func (p *Publisher) Name() string { return "redis" }

// Dispatch publishes the change-set.
func (p *Publisher) Dispatch(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error {
	data, err := EncodeChangeMessage(userID, changes, p.now())
	if err != nil {
		return err
	}
	if err := p.cache.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// EncodeChangeMessage renders the wire payload.
func EncodeChangeMessage(userID account.UserID, changes grade.ChangeSet, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ChangeMessage{UserID: int64(userID), Changes: changes, Published: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode change message: %w", err)
	}
	return data, nil
}
