package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketchat/internal/app/commands"
	chatapp "marketchat/internal/app/handlers/chat"
	"marketchat/internal/app/middleware"
	appoutbox "marketchat/internal/app/outbox"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/queries"
	"marketchat/internal/app/uow"
	"marketchat/internal/infra/broker/kafka"
	"marketchat/internal/infra/bus"
	"marketchat/internal/infra/config"
	mongodb "marketchat/internal/infra/db/mongo"
	ginserver "marketchat/internal/infra/http/gin"
	"marketchat/internal/infra/obs"
	infraoutbox "marketchat/internal/infra/outbox"
	"marketchat/internal/infra/profiles"
	"marketchat/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("using fallback configuration", "error", err)
		cfg.Env = env
		cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
		cfg.StorageMode = "memory"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application bootstrap failed", "error", err)
		os.Exit(1)
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: app.healthChecks}, app.handlers)

	fixturesPath := getenv("CHAT_FIXTURES", defaultFixturesPath())
	if err := app.loadFixtures(fixturesPath, logger); err != nil {
		logger.Warn("fixtures load failed", "error", err, "path", fixturesPath)
	}

	for _, task := range app.background {
		go task(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers     ginserver.Handlers
	healthChecks map[string]obs.Check
	background   []func(context.Context)
	listings     *memory.ListingDirectory
	profiles     *memory.ProfileDirectory
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (application, error) {
	app := application{
		healthChecks: map[string]obs.Check{},
		listings:     memory.NewListingDirectory(),
		profiles:     memory.NewProfileDirectory(),
	}

	var (
		uowFactory  uow.UoWFactory
		outboxStore appoutbox.Outbox
		outboxQueue infraoutbox.Queue
		idStore     middleware.IdempotencyStore
	)
	switch cfg.StorageMode {
	case "mongo":
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return application{}, fmt.Errorf("mongo connect: %w", err)
		}
		store := infraoutbox.NewStore(client.DB)
		uowFactory = mongodb.Factory{
			DB:                client.DB,
			ConversationsRepo: mongodb.NewConversationRepository(client.DB),
			MessagesRepo:      mongodb.NewMessageRepository(client.DB),
			UnreadRepo:        mongodb.NewUnreadRepository(client.DB),
		}
		outboxStore = store
		outboxQueue = store
		idStore = mongodb.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
		app.healthChecks["mongo"] = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
	default:
		memBox := memory.NewOutbox()
		uowFactory = memory.Factory{
			ConversationsRepo: memory.NewConversationRepository(),
			MessagesRepo:      memory.NewMessageRepository(),
			UnreadRepo:        memory.NewUnreadRepository(),
		}
		outboxStore = memBox
		outboxQueue = memBox
		idStore = memory.NewIdempotencyStore()
	}

	hub := bus.NewHub(logger)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		app.healthChecks["redis"] = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Err()
		}
	}
	fanout := bus.NewFanout(rdb, hub, cfg.RedisChannel, logger)
	if rdb != nil {
		app.background = append(app.background, func(ctx context.Context) {
			if err := fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bus fanout stopped", "error", err)
			}
		})
	}

	producer := infraoutbox.FanoutProducer{
		BestEffort: []infraoutbox.Producer{bus.OutboxNotifier{Bus: fanout}},
		Logger:     logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return application{}, fmt.Errorf("kafka producer: %w", err)
		}
		producer.Primary = kp
	}
	worker := &infraoutbox.Worker{
		Queue:       outboxQueue,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ID:          uuid.NewString(),
		Backoff:     cfg.RetryBackoff,
	}
	app.background = append(app.background, func(ctx context.Context) {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker stopped", "error", err)
		}
	})

	var profilesPort policies.ProfilesPort = app.profiles
	if cfg.ProfilesURL != "" {
		profilesPort = &profiles.HTTPClient{
			Client:   &http.Client{Timeout: cfg.ProfilesTimeout},
			Endpoint: cfg.ProfilesURL,
			Logger:   logger,
		}
	}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler(commandBus, chatapp.OpenConversationCommand{}.Key(), &chatapp.OpenConversationHandler{
		UoWFactory: uowFactory,
		Listings:   app.listings,
		Outbox:     outboxStore,
		Encoder:    appoutbox.JSONEventEncoder{},
	})
	commands.RegisterHandler(commandBus, chatapp.SendMessageCommand{}.Key(), &chatapp.SendMessageHandler{
		UoWFactory: uowFactory,
		Listings:   app.listings,
		Outbox:     outboxStore,
		Encoder:    appoutbox.JSONEventEncoder{},
	})
	commands.RegisterHandler(commandBus, chatapp.MarkReadCommand{}.Key(), &chatapp.MarkReadHandler{
		UoWFactory: uowFactory,
		Outbox:     outboxStore,
		Encoder:    appoutbox.JSONEventEncoder{},
	})
	commands.RegisterHandler(commandBus, chatapp.SetBlockedCommand{}.Key(), &chatapp.SetBlockedHandler{
		UoWFactory: uowFactory,
		Outbox:     outboxStore,
		Encoder:    appoutbox.JSONEventEncoder{},
	})
	commands.RegisterHandler(commandBus, chatapp.ReconcileUnreadCommand{}.Key(), &chatapp.ReconcileUnreadHandler{
		UoWFactory: uowFactory,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler(queryBus, chatapp.InboxQuery{}.Key(), &chatapp.InboxHandler{
		UoWFactory: uowFactory,
		Profiles:   profilesPort,
		Logger:     logger,
	})
	queries.RegisterHandler(queryBus, chatapp.ListMessagesQuery{}.Key(), &chatapp.ListMessagesHandler{
		UoWFactory: uowFactory,
	})
	queries.RegisterHandler(queryBus, chatapp.UnreadQuery{}.Key(), &chatapp.UnreadHandler{
		UoWFactory: uowFactory,
	})

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Validation(),
		middleware.Idempotency(idStore, nil),
		middleware.Transaction(uowFactory, nil),
		middleware.OutboxFlush(outboxStore),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus)

	authMW := ginserver.AuthMiddleware{Secret: []byte(cfg.JWTSecret), Logger: logger}
	app.handlers = ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Commands: commandBusWithMiddleware,
			Queries:  queryBusWithMiddleware,
			Logger:   logger,
		},
		Stream: ginserver.StreamHandler{
			Hub:          hub,
			PingInterval: cfg.StreamPingInterval,
			Logger:       logger,
		},
		AuthMiddleware: authMW.Handle,
	}
	return app, nil
}

type chatFixtures struct {
	Listings []listingFixture `json:"listings"`
	Profiles []profileFixture `json:"profiles"`
}

type listingFixture struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
}

type profileFixture struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// loadFixtures seeds the collaborator directories so dev environments have
// listings to open conversations against.
func (a application) loadFixtures(path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures chatFixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, fx := range fixtures.Listings {
		if fx.ID == "" || fx.OwnerID == "" {
			logger.Warn("listing fixture missing id or owner", "listing_id", fx.ID)
			continue
		}
		a.listings.Put(policies.ListingSummary{ID: fx.ID, OwnerID: fx.OwnerID, Title: fx.Title, Slug: fx.Slug})
	}
	for _, fx := range fixtures.Profiles {
		if fx.ID == "" {
			continue
		}
		a.profiles.Put(policies.CounterpartProfile{ID: fx.ID, DisplayName: fx.DisplayName, AvatarURL: fx.AvatarURL})
	}
	logger.Info("fixtures imported", "listings", len(fixtures.Listings), "profiles", len(fixtures.Profiles))
	return nil
}

func defaultFixturesPath() string {
	return filepath.Join("data", "chat_fixtures.json")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
