package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"reorder-engine/internal/ai"
	"reorder-engine/internal/config"
	"reorder-engine/internal/core"
	"reorder-engine/internal/db"
	"reorder-engine/internal/lock"
	"reorder-engine/internal/logger"
	"reorder-engine/internal/notify"
)

// Engine is the fully wired service plus the resources it owns.
type Engine struct {
	Service    ApplicationService
	Dispatcher *core.NotifyDispatcher

	closers []func()
}

// Close waits for in-flight supplier notifications, then releases connections.
func (e *Engine) Close() {
	if e.Dispatcher != nil {
		_ = e.Dispatcher.Wait()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Bootstrap connects to PostgreSQL (and Redis when configured) and wires the engine.
func Bootstrap(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Engine, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	e := &Engine{closers: []func(){pool.Close}}

	store := core.NewReorderStore(pool)

	var locker core.ItemLocker
	switch cfg.ItemLock {
	case config.LockPostgres:
		locker = core.NewAdvisoryLocker(pool)
	case config.LockRedis:
		var rdb *redis.Client
		rdb, err = lock.NewRedisClient(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = rdb.Close() })
		locker = lock.NewRedisLocker(rdb, cfg.ItemLockTTL)
	default:
		locker = core.NoopLocker()
		log.Warn("item lock disabled; overlapping reconciliation runs may create duplicate orders")
	}

	var composer ai.MessageComposer = ai.TemplateComposer{}
	if cfg.OpenAIAPIKey != "" {
		composer = ai.NewOpenAIComposer(cfg.OpenAIAPIKey, cfg.OpenAIModel, log)
	}

	notifier, err := notify.New(log, notify.Config{
		DefaultWebhookURL: cfg.NotifyWebhookURL,
		Timeout:           cfg.NotifyTimeout,
		MaxRetries:        cfg.NotifyMaxRetries,
	}, store, composer)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}

	e.Dispatcher = core.NewNotifyDispatcher(notifier, store, cfg.Engine, log)
	runner := core.NewReconciliationRunner(store, e.Dispatcher, cfg.Engine, log, core.WithLocker(locker))
	watchdog := core.NewDeliveryWatchdog(store, store, cfg.Engine, log)
	e.Service = NewAppService(runner, watchdog, cfg.Engine, pool)
	return e, nil
}
