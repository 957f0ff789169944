// Package messaging fans change-sets out to every configured delivery channel.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// DeliverFunc delivers one change-set over one channel.
type DeliverFunc func(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error

// Middleware wraps a channel's delivery.
type Middleware func(channel string, next DeliverFunc) DeliverFunc

// DispatchRecorder receives per-channel delivery results.
type DispatchRecorder interface {
	Dispatched(channel string, err error)
}

// Registration describes one delivery channel.
type Registration struct {
	Name    string
	Channel command.Dispatcher

	// Timeout bounds one delivery. Zero means the dispatcher default.
	Timeout time.Duration
}

// Dispatcher delivers a change-set to all registered channels concurrently.
// One channel's failure is logged and never prevents the others.
type Dispatcher struct {
	mu          sync.RWMutex
	channels    []Registration
	middlewares []Middleware
	timeout     time.Duration
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Timeout is the default per-channel delivery timeout.
	Timeout time.Duration

	Logger *logger.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Timeout: 30 * time.Second}
}

// NewDispatcher creates a new Dispatcher with recovery and logging installed.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDispatcherConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	log := config.Logger.With(logger.Component("dispatcher"))

	d := &Dispatcher{timeout: config.Timeout}
	d.Use(RecoveryMiddleware(log), LoggingMiddleware(log))
	return d
}

// Register adds a delivery channel.
func (d *Dispatcher) Register(reg Registration) error {
	if reg.Channel == nil {
		return errors.New("dispatcher: nil channel")
	}
	if reg.Name == "" {
		return errors.New("dispatcher: channel name required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.channels {
		if existing.Name == reg.Name {
			return fmt.Errorf("dispatcher: channel %q already registered", reg.Name)
		}
	}
	d.channels = append(d.channels, reg)
	return nil
}

// Use appends middlewares. The first one added is the outermost.
func (d *Dispatcher) Use(middlewares ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middlewares...)
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name
	}
	return names
}

// Dispatch implements command.Dispatcher. It returns the joined errors of the
// failed channels after every channel has been tried.
func (d *Dispatcher) Dispatch(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}

	d.mu.RLock()
	channels := append([]Registration(nil), d.channels...)
	middlewares := append([]Middleware(nil), d.middlewares...)
	d.mu.RUnlock()

	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, reg := range channels {
		wg.Add(1)
		go func(i int, reg Registration) {
			defer wg.Done()

			deliver := DeliverFunc(reg.Channel.Dispatch)
			for j := len(middlewares) - 1; j >= 0; j-- {
				deliver = middlewares[j](reg.Name, deliver)
			}

			timeout := reg.Timeout
			if timeout <= 0 {
				timeout = d.timeout
			}
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := deliver(cctx, userID, changes); err != nil {
				errs[i] = fmt.Errorf("%s: %w", reg.Name, err)
			}
		}(i, reg)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryMiddleware recovers from panics in channels.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(channel string, next DeliverFunc) DeliverFunc {
		return func(ctx context.Context, userID account.UserID, changes grade.ChangeSet) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("channel panic recovered",
						logger.String("channel", channel),
						logger.UserID(int64(userID)),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("channel panic: %v", r)
				}
			}()
			return next(ctx, userID, changes)
		}
	}
}

// LoggingMiddleware logs delivery results.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(channel string, next DeliverFunc) DeliverFunc {
		return func(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error {
			start := time.Now()
			err := next(ctx, userID, changes)

			if err != nil {
				log.Error("delivery failed",
					logger.String("channel", channel),
					logger.UserID(int64(userID)),
					logger.Latency(time.Since(start)),
					logger.Err(err),
				)
			} else {
				log.Debug("delivered",
					logger.String("channel", channel),
					logger.UserID(int64(userID)),
					logger.Int("changes", changes.Total()),
					logger.Latency(time.Since(start)),
				)
			}
			return err
		}
	}
}

// MetricsMiddleware reports every delivery result to rec.
func MetricsMiddleware(rec DispatchRecorder) Middleware {
	return func(channel string, next DeliverFunc) DeliverFunc {
		return func(ctx context.Context, userID account.UserID, changes grade.ChangeSet) error {
			err := next(ctx, userID, changes)
			rec.Dispatched(channel, err)
			return err
		}
	}
}
