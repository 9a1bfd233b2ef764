package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/credentials"
	"agentdesk/internal/diagnostics"
	"agentdesk/internal/events"
	"agentdesk/internal/gateway"
	"agentdesk/internal/idempotency"
	"agentdesk/internal/logger"
	"agentdesk/internal/pipeline"
	"agentdesk/internal/redis"
	"agentdesk/internal/reports"
	"agentdesk/internal/service/agent"
	"agentdesk/internal/service/ai"
	"agentdesk/internal/service/conversation"
	"agentdesk/internal/service/usage"
	"agentdesk/internal/storage"
	"agentdesk/internal/worker"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	ring   *diagnostics.Ring
	db     *storage.DB
	rdb    *redis.Client
	nats   *events.Publisher
	pool   *worker.Pool

	accessor      *credentials.Accessor
	agents        *agent.Service
	conversations *conversation.Service
	usage         *usage.Service
	reports       *reports.Service
	dedupe        idempotency.Store
	sqlEvents     *idempotency.SQLStore
	pipeline      *pipeline.Processor
}

func loadConfig() (*config.Config, *slog.Logger, *diagnostics.Ring, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	ring := diagnostics.NewRing(cfg.BasicConfig.DiagnosticCap)
	log := logger.New(os.Stdout, cfg.BasicConfig.LogLevel, diagnostics.NewHandler(ring, slog.LevelWarn))
	slog.SetDefault(log)
	return cfg, log, ring, nil
}

func openDatabase(cfg *config.Config, log *slog.Logger) (*storage.DB, error) {
	log.Info("opening database", "driver", cfg.BasicConfig.Database)
	db, err := storage.Open(cfg.BasicConfig.Database, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, ring, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, ring: ring, db: db}

	a.sqlEvents = idempotency.NewSQLStore(db)
	a.dedupe = a.sqlEvents
	convOpts := []conversation.Option{conversation.WithLogger(log)}
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		a.rdb = rdb
		a.dedupe = idempotency.NewRedisStore(rdb, time.Duration(cfg.Pipeline.DedupeTTLMinutes)*time.Minute)
		convOpts = append(convOpts, conversation.WithLocker(rdb, time.Duration(cfg.Pipeline.LockTTLSeconds)*time.Second))
	}
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nats = pub
		convOpts = append(convOpts, conversation.WithPublisher(pub))
	}

	cipher, err := credentials.NewCipher(cfg.BasicConfig.EncryptionKey)
	if err != nil {
		// replies are still generated and stored; relays fail until a key is configured
		log.Error("credential cipher unavailable", "category", "auth", "error", err)
	}
	a.accessor = credentials.NewAccessor(cipher)

	provider, provCfg, err := cfg.Provider()
	if err != nil {
		a.Close()
		return nil, err
	}
	timeout := time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second
	chat, err := ai.NewChatModel(ctx, provider, provCfg, 60*time.Second)
	if err != nil {
		log.Error("completion model unavailable, fallback replies only", "category", "api", "provider", provider, "error", err)
		chat = nil
	}

	a.agents = agent.NewService(db)
	a.conversations = conversation.NewService(db, convOpts...)
	a.usage = usage.NewService(db, usage.Options{
		FailurePolicy: cfg.Pipeline.QuotaFailurePolicy,
		DefaultLimit:  cfg.Pipeline.DefaultMonthlyLimit,
		Logger:        log,
	})
	a.pool = worker.NewPool(cfg.Reports.Workers, cfg.Reports.QueueSize, log)
	a.reports = reports.NewService(db, a.pool, log)
	a.pipeline = pipeline.NewProcessor(pipeline.Deps{
		Agents:        a.agents,
		Conversations: a.conversations,
		Quota:         a.usage,
		Completion: ai.NewClient(chat, ai.Options{
			Provider:            provider,
			FailurePolicy:       cfg.Pipeline.CompletionFailurePolicy,
			FallbackReply:       cfg.Pipeline.FallbackReply,
			DefaultSystemPrompt: cfg.Pipeline.DefaultSystemPrompt,
			HistoryLimit:        cfg.Pipeline.HistoryLimit,
			Logger:              log,
		}),
		Credentials: a.accessor,
		Relay:       gateway.NewClient(timeout, log),
		Dedupe:      a.dedupe,
		Logger:      log,
	})
	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
