package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nzua-hub/grade-notifier/config"
	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/application/query"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/external/nzua"
	tgapi "github.com/nzua-hub/grade-notifier/internal/infrastructure/external/telegram"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/messaging"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/metrics"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/persistence/memory"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/persistence/postgres"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/persistence/redis"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/service"
	"github.com/nzua-hub/grade-notifier/internal/interface/telegram"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
	"github.com/nzua-hub/grade-notifier/pkg/sealer"
)

// container holds the wired object graph of one process.
type container struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	conn  *postgres.Connection
	cache *redis.Cache
	repo  account.Repository

	client     *nzua.Client
	bot        *tgapi.Client
	sessions   *command.SessionManager
	syncer     *command.SyncUserHandler
	dispatcher *messaging.Dispatcher
	profiles   *query.GetProfileHandler
	ranges     *query.FetchRangeHandler
}

// newContainer connects the stores and builds every handler.
func newContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*container, error) {
	c := &container{cfg: cfg, log: log, metrics: metrics.New()}

	if err := c.openStore(ctx); err != nil {
		c.Close()
		return nil, err
	}

	var locker command.Locker
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(ctx, redis.Config{
			URL:             cfg.Redis.URL,
			PoolSize:        cfg.Redis.PoolSize,
			DialTimeout:     redis.DefaultConfig().DialTimeout,
			ConnectAttempts: redis.DefaultConfig().ConnectAttempts,
		}, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.cache = cache
		locker = redis.NewLocker(cache)
	}

	c.client = nzua.NewClient(nzua.ClientConfig{
		BaseURL:          cfg.Nzua.BaseURL,
		Timeout:          cfg.Nzua.RequestTimeout,
		UserAgent:        cfg.Nzua.UserAgent,
		RateLimit:        cfg.Nzua.RateLimit,
		RateBurst:        cfg.Nzua.RateBurst,
		BreakerThreshold: cfg.Nzua.BreakerThreshold,
		BreakerTimeout:   cfg.Nzua.BreakerTimeout,
		Logger:           log,
	})

	locks := command.NewUserLocks(locker, command.DefaultLockTTL, log)
	c.sessions = command.NewSessionManager(c.repo, c.client, locks, c.metrics, log, command.SessionManagerConfig{
		RefreshHorizon: cfg.Sync.RefreshHorizon,
	})

	c.syncer = command.NewSyncUserHandler(c.repo, c.sessions, c.gradeSource(), c.metrics, log, command.SyncUserHandlerConfig{
		Timeout: cfg.Sync.UserTimeout,
	})

	c.profiles = query.NewGetProfileHandler(c.repo)
	c.ranges = query.NewFetchRangeHandler(c.repo, c.sessions, service.NewRangeFetcherAdapter(c.client))

	dispatcher, err := c.buildDispatcher()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.dispatcher = dispatcher

	return c, nil
}

func (c *container) openStore(ctx context.Context) error {
	switch c.cfg.Store {
	case config.StoreMemory:
		c.log.Warn("using in-memory store, state is lost on exit")
		c.repo = memory.NewAccountRepository()
		return nil

	case config.StorePostgres:
		conn, err := c.connectPostgres(ctx)
		if err != nil {
			return err
		}
		c.conn = conn

		var s *sealer.Sealer
		if key := c.cfg.Security.EncryptionKey; key != "" {
			if s, err = sealer.New(key); err != nil {
				return fmt.Errorf("security.encryption_key: %w", err)
			}
		}
		c.repo = postgres.NewAccountRepository(conn, s)
		return nil

	default:
		return fmt.Errorf("unknown store %q", c.cfg.Store)
	}
}

func (c *container) connectPostgres(ctx context.Context) (*postgres.Connection, error) {
	def := postgres.DefaultConfig()
	conn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:               c.cfg.Database.URL,
		MaxConns:          c.cfg.Database.MaxConns,
		MinConns:          c.cfg.Database.MinConns,
		MaxConnLifetime:   c.cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   c.cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: def.HealthCheckPeriod,
		ConnectAttempts:   def.ConnectAttempts,
	}, c.log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return conn, nil
}

func (c *container) gradeSource() command.GradeSource {
	if c.cfg.Sync.Strategy == nzua.StrategyNotifications {
		return service.NewGradeSourceAdapter(nzua.NewFeedSource(c.client, c.cfg.Sync.NotificationLimit))
	}
	return service.NewGradeSourceAdapter(nzua.NewSubjectSource(c.client, c.cfg.Sync.WindowBack, c.cfg.Sync.WindowForward, time.Now))
}

// buildDispatcher registers every enabled delivery channel.
func (c *container) buildDispatcher() (*messaging.Dispatcher, error) {
	d := messaging.NewDispatcher(messaging.DispatcherConfig{Logger: c.log})
	d.Use(messaging.MetricsMiddleware(c.metrics))

	if !c.cfg.Telegram.Disabled {
		tgConfig := tgapi.DefaultClientConfig(c.cfg.Telegram.Token)
		tgConfig.BaseURL = c.cfg.Telegram.BaseURL
		tgConfig.Logger = c.log

		c.bot = tgapi.NewClient(tgConfig)
		notifier := telegram.NewNotifier(c.bot, telegram.NotifierConfig{
			MessagesPerSecond: c.cfg.Telegram.MessagesPerSecond,
		}, c.log)
		if err := d.Register(messaging.Registration{Name: notifier.Name(), Channel: notifier}); err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		pub := redis.NewPublisher(c.cache, "")
		if err := d.Register(messaging.Registration{Name: pub.Name(), Channel: pub}); err != nil {
			return nil, err
		}
	}

	if len(d.Channels()) == 0 {
		c.log.Warn("no delivery channel enabled, changes are only stored")
	}
	return d, nil
}

// Close releases connections. Safe on a partially built container.
func (c *container) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.log.Warn("redis close failed", logger.Err(err))
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
