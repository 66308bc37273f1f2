package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/api"
	"github.com/kestrel-ai/banter/internal/command"
	"github.com/kestrel-ai/banter/internal/config"
	"github.com/kestrel-ai/banter/internal/embedding"
	"github.com/kestrel-ai/banter/internal/feed"
	"github.com/kestrel-ai/banter/internal/gateway"
	"github.com/kestrel-ai/banter/internal/graph"
	"github.com/kestrel-ai/banter/internal/localstore"
	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/orchestrator"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/secrets"
	"github.com/kestrel-ai/banter/internal/session"
	pgstore "github.com/kestrel-ai/banter/internal/store"
	"github.com/kestrel-ai/banter/internal/tools"
	"github.com/kestrel-ai/banter/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Banter...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/banter.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Credential cache over the configured secret source
	var fetcher secrets.Fetcher
	switch cfg.Secrets.Source {
	case "http":
		fetcher = secrets.NewHTTPFetcher(cfg.Secrets.Endpoint, logger)
	default:
		fetcher = secrets.NewEnvFetcher(nil)
	}
	keys := secrets.NewCache(fetcher, logger)

	// Model router over the fixed registry
	router := provider.NewRouter(keys, logger)

	// Embedding provider
	embedder := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})

	// PostgreSQL memory backend
	var pgStore *pgstore.Store
	var backend memory.Backend
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without memory persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			backend = memory.NewPGStore(ps.Pool(), logger)
		}
	}

	// Qdrant ANN index
	var index memory.Index
	var qdrant *vectorstore.Index
	if cfg.Database.Qdrant.Host != "" {
		qx, qErr := vectorstore.NewIndex(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, falling back to pgvector search", zap.Error(qErr))
		} else if cErr := qx.EnsureCollection(context.Background(), uint64(cfg.Embedding.Dimension)); cErr != nil {
			logger.Warn("Qdrant collection setup failed", zap.Error(cErr))
			qx.Close()
		} else {
			qdrant = qx
			index = qx
		}
	}

	// Neo4j topic graph mirror
	var mirror memory.Mirror
	var topicGraph *graph.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := graph.New(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without topic graph", zap.Error(gErr))
		} else {
			topicGraph = g
			mirror = g
		}
	}

	var memStore *memory.Adapter
	if backend != nil {
		memStore = memory.NewAdapter(backend, embedder, index, mirror, logger)
	}

	// Local store: sessions, tool settings, audit log
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		logger.Fatal("create local dir", zap.String("dir", cfg.LocalDir), zap.Error(err))
	}
	local, err := localstore.Open(filepath.Join(cfg.LocalDir, "banter.db"), logger)
	if err != nil {
		logger.Fatal("open local store", zap.Error(err))
	}

	// Redis: session mirror and activity feed
	var redisClient *redis.Client
	if cfg.Database.Redis.URL != "" {
		opt, rErr := redis.ParseURL(cfg.Database.Redis.URL)
		if rErr != nil {
			logger.Warn("invalid redis url, running without mirror", zap.Error(rErr))
		} else {
			rc := redis.NewClient(opt)
			if pErr := rc.Ping(context.Background()).Err(); pErr != nil {
				logger.Warn("Redis unavailable, running without mirror", zap.Error(pErr))
				rc.Close()
			} else {
				redisClient = rc
			}
		}
	}

	sessions := session.NewManager(local, redisClient, logger)
	activity := feed.New(redisClient, logger)

	// Tool gateway
	var toolGateway *tools.Gateway
	if cfg.Tools.Endpoint != "" {
		client := tools.NewClient(cfg.Tools.Endpoint, cfg.Tools.StatusPath, logger)
		ttl := time.Duration(cfg.Tools.CacheTTLSecs) * time.Second
		gw, gwErr := tools.NewGateway(client, local, local, ttl, logger)
		if gwErr != nil {
			logger.Fatal("tool gateway init failed", zap.Error(gwErr))
		}
		toolGateway = gw
		if _, cErr := gw.Connect(context.Background()); cErr != nil {
			logger.Warn("tool executor unavailable, starting offline", zap.Error(cErr))
		}
	}

	personas := persona.NewRegistry()

	var orchGateway orchestrator.ToolGateway
	if toolGateway != nil {
		orchGateway = toolGateway
	}
	var orchMemory orchestrator.MemoryStore
	if memStore != nil {
		orchMemory = memStore
	}
	orch := orchestrator.New(router, orchMemory, orchGateway, sessions, personas, activity, logger)

	// Slash commands
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands)

	deps := &command.Deps{
		Personas: personas,
		Models:   router,
		Gateway:  toolGateway,
		Settings: local,
	}
	if memStore != nil {
		deps.Memory = memStore
	}

	// HTTP API
	handlerCfg := api.Config{
		Orchestrator: orch,
		Sessions:     sessions,
		Personas:     personas,
		Models:       router,
		Selector:     router,
		Gateway:      toolGateway,
		Settings:     local,
		Audit:        local,
		Feed:         activity,
		Commands:     commands,
		Logger:       logger,
	}
	if memStore != nil {
		handlerCfg.Memory = memStore
	}
	if topicGraph != nil {
		handlerCfg.Related = topicGraph
	}
	handler := api.NewHandler(handlerCfg)
	deps.Sessions = handler

	// Platform gateways
	gw := gateway.NewManager(logger)
	bridge := gateway.NewBridge(gw, orch, sessions, personas, commands, deps, logger)
	_ = bridge

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	if err := gw.ConnectAll(context.Background()); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Banter listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Banter...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	gw.Close()
	if toolGateway != nil {
		toolGateway.Disconnect()
	}
	if topicGraph != nil {
		topicGraph.Close(context.Background())
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	local.Close()
}
