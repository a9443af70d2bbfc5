package fx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/locallift/backend/internal/config"
	"github.com/locallift/backend/internal/db"
	"github.com/locallift/backend/internal/delivery"
	httpapi "github.com/locallift/backend/internal/http"
	"github.com/locallift/backend/internal/http/handlers"
	"github.com/locallift/backend/internal/leaderboard"
	"github.com/locallift/backend/internal/logger"
	"github.com/locallift/backend/internal/models"
	"github.com/locallift/backend/internal/report"
	"github.com/locallift/backend/internal/scheduler"
)

// Storage is the persistence surface shared by every component. Both
// *db.Store and *db.MemoryStore satisfy it.
type Storage interface {
	leaderboard.Store
	report.BuilderStore
	report.QueryStore
	delivery.Store
	delivery.InboxStore
	scheduler.Store
	handlers.Store
}

var (
	_ Storage = (*db.Store)(nil)
	_ Storage = (*db.MemoryStore)(nil)
)

func ProvideStorage(lc fx.Lifecycle, cfg config.Config, log zerolog.Logger) (Storage, error) {
	switch cfg.Store {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return db.NewMemoryStore(), nil
	case "", "postgres":
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			store.Close()
			return nil
		},
	})
	return store, nil
}

// ProvideRedis returns nil when no redis_url is configured; the leaderboard
// cache and scheduler lock are then disabled.
func ProvideRedis(lc fx.Lifecycle, cfg config.Config, log zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("redis not configured, leaderboard cache and scheduler lock disabled")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client, nil
}

func ProvideLeaderboard(store Storage, client *redis.Client, cfg config.Config, log zerolog.Logger) *leaderboard.Service {
	return leaderboard.NewService(store, leaderboard.NewCache(client, cfg.Leaderboard.CacheTTL), log, cfg.Leaderboard.DefaultLimit)
}

func ProvideBuilder(store Storage, cfg config.Config, log zerolog.Logger) *report.Builder {
	return report.NewBuilder(store, log, cfg.Benchmark.Tolerance, cfg.Trend.ThresholdPercent)
}

func ProvideReports(store Storage, builder *report.Builder, log zerolog.Logger) *report.Service {
	return report.NewService(store, builder, log)
}

// ProvideAdapters wires a transport per delivery method. Email and SMS fall
// back to the logging mock when they are not configured in development.
func ProvideAdapters(cfg config.Config, store Storage, log zerolog.Logger) (map[models.DeliveryMethod]delivery.Adapter, error) {
	adapters := map[models.DeliveryMethod]delivery.Adapter{
		models.DeliveryDashboard: &delivery.DashboardAdapter{Store: store},
		models.DeliveryAPI: &delivery.WebhookAdapter{
			Secret: cfg.Webhook.Secret,
			Client: &http.Client{Timeout: cfg.Webhook.Timeout},
		},
	}

	if cfg.Env == "dev" && cfg.Email.AccessKeyID == "" {
		log.Info().Msg("using mock email adapter")
		adapters[models.DeliveryEmail] = delivery.MockAdapter{Method: models.DeliveryEmail, Logger: log}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ses, err := delivery.NewSESAdapter(ctx, cfg.Email)
		if err != nil {
			return nil, err
		}
		adapters[models.DeliveryEmail] = ses
	}

	switch {
	case cfg.SMS.GatewayURL == "" && cfg.Env == "dev":
		log.Info().Msg("using mock sms adapter")
		adapters[models.DeliverySMS] = delivery.MockAdapter{Method: models.DeliverySMS, Logger: log}
	case cfg.SMS.GatewayURL == "":
		// sms preferences stay due and fail as Internal until a gateway is set
		log.Warn().Msg("sms.gateway_url not set, sms delivery disabled")
	default:
		adapters[models.DeliverySMS] = &delivery.SMSAdapter{
			GatewayURL:  cfg.SMS.GatewayURL,
			APIKey:      cfg.SMS.APIKey,
			MinInterval: cfg.SMS.MinInterval,
			Client:      &http.Client{Timeout: 15 * time.Second},
		}
	}
	return adapters, nil
}

func ProvideDispatcher(store Storage, adapters map[models.DeliveryMethod]delivery.Adapter, cfg config.Config, log zerolog.Logger) (*delivery.Dispatcher, error) {
	renderer, err := delivery.NewRenderer()
	if err != nil {
		return nil, err
	}
	return delivery.NewDispatcher(store, adapters, renderer, log, cfg.Dispatcher), nil
}

func ProvideScheduler(store Storage, builder *report.Builder, dispatcher *delivery.Dispatcher, client *redis.Client, cfg config.Config, log zerolog.Logger) *scheduler.Scheduler {
	var lock scheduler.Locker
	if client != nil {
		lock = scheduler.NewRedisLock(client, "report-scheduler", cfg.Scheduler.LockTTL())
	}
	return scheduler.New(store, builder, dispatcher, lock, log, cfg.Scheduler)
}

func ProvideHandler(store Storage, boards *leaderboard.Service, reports *report.Service, log zerolog.Logger) *handlers.Handler {
	return handlers.New(store, boards, reports, log)
}

func ProvideRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	return httpapi.Router(cfg, h)
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(logger.New),
	// storage
	fx.Provide(ProvideStorage),
	fx.Provide(ProvideRedis),
	// svc
	fx.Provide(ProvideLeaderboard),
	fx.Provide(ProvideBuilder),
	fx.Provide(ProvideReports),
	// delivery
	fx.Provide(ProvideAdapters),
	fx.Provide(ProvideDispatcher),
	fx.Provide(ProvideScheduler),
	// http
	fx.Provide(ProvideHandler),
	fx.Provide(ProvideRouter),
)
