package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	chatapp "chatgate/internal/app/chat"
	"chatgate/internal/app/commands"
	"chatgate/internal/app/gateway"
	"chatgate/internal/app/middleware"
	"chatgate/internal/app/outbox"
	"chatgate/internal/app/queries"
	"chatgate/internal/app/relay"
	"chatgate/internal/app/rooms"
	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
	"chatgate/internal/domain/notification"
	"chatgate/internal/infra/broker/kafka"
	"chatgate/internal/infra/config"
	mongostore "chatgate/internal/infra/db/mongo"
	ginserver "chatgate/internal/infra/http/gin"
	"chatgate/internal/infra/identity/httpdir"
	"chatgate/internal/infra/obs"
	outboxstore "chatgate/internal/infra/outbox"
	"chatgate/internal/infra/storage/memory"
	redisstore "chatgate/internal/infra/storage/redis"
	"chatgate/internal/infra/storage/s3"
	"chatgate/internal/infra/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger("dev").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chatgate stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("chatgate stopped")
}

type storage struct {
	repo     domainchat.Repository
	outbox   outbox.Outbox
	queue    outboxstore.Queue
	ready    func(ctx context.Context) error
	shutdown func(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics := obs.NewMetrics()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.shutdown(closeCtx); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}()

	notifications, closeNotifications := openNotifications(ctx, cfg, logger)
	defer closeNotifications()

	directory := openDirectory(cfg, logger)

	svc := &chatapp.Service{
		Repo:            store.repo,
		Directory:       directory,
		Outbox:          store.outbox,
		Encoder:         outbox.JSONEventEncoder{},
		Metrics:         metrics,
		Logger:          logger,
		StoreTimeout:    cfg.StoreTimeout,
		IdentityTimeout: cfg.IdentityTimeout,
	}
	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chatapp.Register(commandBus, queryBus, svc)
	logger.Debug("handlers registered", "commands", commandBus.Keys(), "queries", queryBus.Keys())

	validator := middleware.NewStructValidator()
	commandsWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Validation(validator),
		middleware.OutboxFlush(store.outbox),
	)
	queriesWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryLogging(logger),
		middleware.QueryValidation(validator),
	)

	scope, err := rooms.ParseScope(cfg.BroadcastScope)
	if err != nil {
		return err
	}
	hub := ws.NewHub(nil, cfg.WSAllowedOrigins, metrics, logger)
	hub.Handler = &gateway.Gateway{
		Commands: commandsWithMiddleware,
		Queries:  queriesWithMiddleware,
		Rooms:    &rooms.Coordinator{Transport: hub, Scope: scope, Logger: logger},
		Relay: &relay.Service{
			Notifications:   notifications,
			Directory:       directory,
			Logger:          logger,
			IdentityTimeout: cfg.IdentityTimeout,
		},
		Validator: validator,
		Metrics:   metrics,
		Logger:    logger,
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready:   store.ready,
		Timeout: cfg.StoreTimeout,
	}, ginserver.Handlers{
		Media:   ginserver.MediaHandler{Uploader: openUploader(cfg, logger), Logger: logger},
		Socket:  hub,
		Metrics: metrics.Handler(),
	})

	var worker *outboxstore.Worker
	if store.queue != nil && len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.NewConfig("chatgate"))
		if err != nil {
			return err
		}
		defer producer.Close()
		worker = &outboxstore.Worker{
			Store:       store.queue,
			Producer:    producer,
			Logger:      logger,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "scope", scope, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return hub.Shutdown(shutdownCtx)
	})
	if worker != nil {
		g.Go(func() error {
			logger.Info("outbox worker starting", "brokers", cfg.KafkaBrokers)
			return worker.Run(gctx)
		})
	}
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory conversation store")
		return storage{
			repo:     memory.NewConversationRepository(),
			outbox:   memory.NewOutbox(logger),
			ready:    func(context.Context) error { return nil },
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return storage{}, err
	}
	repo := mongostore.NewConversationRepository(client.DB)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Close(context.Background())
		return storage{}, err
	}
	s := storage{
		repo:     repo,
		outbox:   memory.NewOutbox(logger),
		ready:    client.Ping,
		shutdown: client.Close,
	}
	if len(cfg.KafkaBrokers) > 0 {
		box, err := outboxstore.NewStore(ctx, client.DB)
		if err != nil {
			_ = client.Close(context.Background())
			return storage{}, err
		}
		s.outbox, s.queue = box, box
	}
	return s, nil
}

func openNotifications(ctx context.Context, cfg config.Config, logger *slog.Logger) (notification.Repository, func()) {
	if cfg.RedisAddr == "" {
		return memory.NewNotificationRepository(), func() {}
	}
	rdb, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, keeping notifications in memory", "error", err)
		return memory.NewNotificationRepository(), func() {}
	}
	return redisstore.NewNotificationRepository(rdb), func() { _ = rdb.Close() }
}

func openDirectory(cfg config.Config, logger *slog.Logger) identity.Directory {
	if cfg.IdentityURL == "" {
		logger.Warn("IDENTITY_URL not set, using empty in-memory directory")
		return memory.NewDirectory()
	}
	return httpdir.New(cfg.IdentityURL, &http.Client{Timeout: cfg.IdentityTimeout})
}

func openUploader(cfg config.Config, logger *slog.Logger) ginserver.AttachmentUploader {
	if cfg.S3Endpoint == "" {
		return s3.Unavailable{}
	}
	client, err := s3.NewClient(s3.Options{
		Endpoint:       cfg.S3Endpoint,
		PublicEndpoint: cfg.S3PublicEndpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Bucket:         cfg.S3Bucket,
		UseSSL:         cfg.S3UseSSL,
	}, logger)
	if err != nil {
		logger.Warn("s3 uploader disabled", "error", err)
		return s3.Unavailable{}
	}
	return client
}
