// Package telegram delivers grade change-sets to users as Telegram messages.
package telegram

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	tgapi "github.com/nzua-hub/grade-notifier/internal/infrastructure/external/telegram"
	"github.com/nzua-hub/grade-notifier/internal/interface/telegram/presenter"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// Sender sends one HTML message to a chat.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, html string) (*tgapi.Message, error)
}

// NotifierConfig configures outbound pacing.
type NotifierConfig struct {
	// MessagesPerSecond caps sends across all chats. Bot API allows about 30.
	MessagesPerSecond float64
	Burst             int
}

// DefaultNotifierConfig returns sensible defaults.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{MessagesPerSecond: 25, Burst: 5}
}

// Notifier renders a change-set and sends one message per new or updated
// grade. The user id doubles as the private chat id.
type Notifier struct {
	sender    Sender
	presenter *presenter.GradesPresenter
	limiter   *rate.Limiter
	logger    *logger.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Sender, config NotifierConfig, log *logger.Logger) *Notifier {
	def := DefaultNotifierConfig()
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = def.MessagesPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if log == nil {
		log = logger.Default()
	}
	return &Notifier{
		sender:    sender,
		presenter: presenter.NewGradesPresenter(),
		limiter:   rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
		logger:    log.With(logger.Component("telegram_notifier")),
	}
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string { return "telegram" }

// Dispatch sends every message of the change-set. A failed message does not
// stop the rest; the errors are joined. A chat that blocked the bot aborts
// the remaining messages for that user.
func (n *Notifier) Dispatch(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error {
	var errs []error
	for _, view := range n.presenter.FormatChanges(changes) {
		if err := n.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}

		_, err := n.sender.SendHTML(ctx, int64(userID), view.Text)
		if err == nil {
			continue
		}
		if tgapi.IsUserBlocked(err) {
			n.logger.Warn("chat unreachable, skipping remaining messages",
				logger.UserID(int64(userID)), logger.Err(err))
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, fmt.Errorf("send to %d: %w", userID, err))
	}
	return errors.Join(errs...)
}
