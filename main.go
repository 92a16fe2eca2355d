package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/broker"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/clients/platform"
	appclock "crosspost/infrastructure/clock"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/objectstore"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/pubsub"
	"crosspost/infrastructure/realtime"
	"crosspost/infrastructure/secrets"
	"crosspost/infrastructure/servicebus"
	"crosspost/usecase"
)

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()

	// Load env from files (non-destructive; OS env still has precedence)
	configuration.LoadEnvFromFile("config.env", ".env")
	cfg, err := configuration.Load()
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Configuration failed to load")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.NewPostgreSQLDB(cfg.Database.Psql)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Cannot connect to PostgreSQL")
	}
	defer db.Close()
	if err := persistence.EnsureSchema(db); err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Schema bootstrap failed")
	}
	gormDB, err := persistence.NewGormDB(db)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Gorm initialization failed")
	}
	logger.GetLogger().Info("PostgreSQL connected")

	mongoClient, err := persistence.NewMongoDb(cfg.Database.Mongo.MongoURI())
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without analytics")
		mongoClient = nil
	}
	if mongoClient != nil {
		if err := mongoClient.Ping(ctx, nil); err != nil {
			logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - continuing without analytics")
			mongoClient = nil
		} else {
			logger.GetLogger().Info("MongoDB connected")
			defer func() { _ = mongoClient.Disconnect(context.Background()) }()
		}
	}

	// The broker carries every post job; without it nothing publishes.
	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisClient)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Job broker (redis) unreachable")
	}
	defer redisClient.Close()
	logger.GetLogger().Info("Redis client initialized successfully.")

	store, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Object store initialization failed")
	}

	sealer, err := secrets.NewSealer(cfg.Encryption)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Secret sealer initialization failed")
	}

	notifier := newOutcomeNotifier(ctx, cfg.Notify)

	clk := appclock.NewSystemClock()
	ids := appclock.NewIDSource()
	queue := broker.NewRedisQueue(redisClient, cfg.Dispatcher.DedupWindow())
	hub := realtime.NewHub()

	registry := platform.NewRegistry(platform.Deps{
		Store:       store,
		Platforms:   cfg.Platforms,
		DownloadTTL: cfg.ObjectStore.DownloadTTL(),
	})

	videoRepo := persistence.NewVideoRepository(gormDB)
	connRepo := persistence.NewConnectionRepository(db, sealer)
	postRepo := persistence.NewPostRepository(db, cfg.Governor.Cooldown())
	scheduleRepo := persistence.NewScheduleRepository(db)

	governor := usecase.NewRepostGovernor(postRepo, clk, cfg.Governor.Cooldown())
	tokens := usecase.NewTokenUsecase(connRepo, registry, clk,
		cfg.Tokens.SafetyWindow(), cfg.Tokens.SweepHorizon(), twitterAppCredential(cfg.Platforms.TwitterApp))
	scheduler := usecase.NewSchedulerUsecase(scheduleRepo, queue, governor, clk, ids,
		cfg.Dispatcher.Queue, cfg.Scheduler.Tick(), cfg.Scheduler.BatchSize)

	var analytics usecase.IAnalyticsUsecase
	if mongoClient != nil {
		analyticsRepo := persistence.NewAnalyticsRepository(mongoClient, cfg.Analytics.Database, cfg.Analytics.Collection)
		analytics = usecase.NewAnalyticsUsecase(analyticsRepo, postRepo, videoRepo, connRepo, registry, tokens, clk, 0)
	}

	dispatcher := usecase.NewDispatcherUsecase(usecase.DispatcherDeps{
		Queue:       queue,
		Posts:       postRepo,
		Videos:      videoRepo,
		Connections: connRepo,
		Adapters:    registry,
		Tokens:      tokens,
		Governor:    governor,
		Clock:       clk,
		Sink:        hub,
		Notifier:    notifier,
	}, usecase.DispatcherSettings{
		QueueName:       cfg.Dispatcher.Queue,
		Workers:         cfg.Dispatcher.Workers,
		MaxAttempts:     cfg.Dispatcher.MaxAttempts,
		BaseDelay:       cfg.Dispatcher.BaseDelay(),
		MaxDelay:        cfg.Dispatcher.MaxDelay(),
		Visibility:      cfg.Dispatcher.Visibility(),
		PublishDeadline: cfg.Dispatcher.PublishDeadline(),
	})

	beat := cron.New()
	_, err = beat.AddFunc(fmt.Sprintf("@every %s", cfg.Scheduler.Tick()), func() {
		tickCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.Tick())
		defer cancel()
		if n, err := scheduler.Tick(tickCtx); err != nil {
			logger.WithComponent("scheduler").WithField("error", err).Error("Scheduler tick failed")
		} else if n > 0 {
			logger.WithComponent("scheduler").WithField("fired", n).Info("Scheduler tick fired schedules")
		}
	})
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Scheduler beat registration failed")
	}
	_, err = beat.AddFunc(fmt.Sprintf("@every %s", cfg.Tokens.SweepEvery()), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if n, err := tokens.RefreshExpiring(sweepCtx); err != nil {
			logger.WithComponent("tokens").WithField("error", err).Error("Token refresh sweep failed")
		} else if n > 0 {
			logger.WithComponent("tokens").WithField("refreshed", n).Info("Token refresh sweep finished")
		}
	})
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Token sweep registration failed")
	}
	if analytics != nil {
		_, err = beat.AddFunc(fmt.Sprintf("@every %s", cfg.Analytics.SweepEvery()), func() {
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
			defer cancel()
			if _, err := analytics.Sweep(sweepCtx); err != nil {
				logger.WithComponent("analytics").WithField("error", err).Error("Stats sweep failed")
			}
		})
		if err != nil {
			logger.GetLogger().WithField("error", err).Fatal("Analytics sweep registration failed")
		}
	}
	beat.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	logger.GetLogger().WithFields(map[string]interface{}{
		"queue":     cfg.Dispatcher.Queue,
		"workers":   cfg.Dispatcher.Workers,
		"tick":      cfg.Scheduler.Tick().String(),
		"analytics": analytics != nil,
	}).Info("Publishing engine started")

	<-gctx.Done()
	logger.GetLogger().Info("Application shutdown requested")
	stop()

	// Let in-flight beat jobs finish before tearing the stores down.
	<-beat.Stop().Done()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Engine returned an error")
		os.Exit(2)
	}
	logger.GetLogger().Info("Shutdown complete")
}

// newOutcomeNotifier picks the configured event publisher: Google Pub/Sub,
// Azure Service Bus, or none. Both providers are optional; a broken one logs
// and degrades rather than blocking startup.
func newOutcomeNotifier(ctx context.Context, cfg configuration.Notify) repository.IOutcomeNotifier {
	if cfg.Pubsub.ProjectID != "" {
		client, err := pubsub.NewPubSub(ctx, cfg.Pubsub.ProjectID)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Pub/Sub not available - continuing without outcome events")
			return nil
		}
		logger.GetLogger().WithField("topic", cfg.Pubsub.Topic).Info("Outcome events on Pub/Sub")
		return pubsub.NewOutcomeNotifier(client, cfg.Pubsub.Topic)
	}
	if cfg.ServiceBus.Namespace != "" {
		client, err := servicebus.NewServiceBus(ctx, cfg.ServiceBus.Namespace)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - continuing without outcome events")
			return nil
		}
		logger.GetLogger().WithField("queue", cfg.ServiceBus.Queue).Info("Outcome events on Service Bus")
		return servicebus.NewOutcomeNotifier(client, cfg.ServiceBus.Queue)
	}
	return nil
}

func twitterAppCredential(app configuration.TwitterApp) model.OAuth1Credential {
	return model.OAuth1Credential{
		APIKey:            app.APIKey,
		APISecret:         app.APISecret,
		AccessToken:       app.AccessToken,
		AccessTokenSecret: app.AccessTokenSecret,
	}
}
