package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/internal/queue"
	"github.com/OFFIS-RIT/agentkg/internal/storage"
	"github.com/OFFIS-RIT/agentkg/internal/timing"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	oai "github.com/OFFIS-RIT/agentkg/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/agentkg/pkg/ai/openai"
	"github.com/OFFIS-RIT/agentkg/pkg/leaselock"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/logger/console"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	"github.com/OFFIS-RIT/agentkg/pkg/pipeline"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
	"github.com/OFFIS-RIT/agentkg/pkg/store/neo4j"
	pgstore "github.com/OFFIS-RIT/agentkg/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func newAIClient(cfg *config.DomainConfig) ai.GraphAIClient {
	timeout := util.GetEnvInt("AI_TIMEOUT_MIN", 10)
	parallel := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 8))
	dims := util.GetEnvInt("AI_EMBED_DIM", 0)

	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ExtractionModel: cfg.ExtractionModel,
			Dimensions:      dims,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			TimeoutMin:            timeout,
			MaxConcurrentRequests: parallel,
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ExtractionModel: cfg.ExtractionModel,
			Dimensions:      dims,

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			TimeoutMin:            timeout,
			MaxConcurrentRequests: parallel,
		})
	}
}

func loadDomainConfig() *config.DomainConfig {
	path := util.GetEnv("DOMAIN_CONFIG")
	if path == "" {
		logger.Warn("DOMAIN_CONFIG not set, using the default domain configuration")
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("Could not load domain configuration", "path", path, "err", err)
	}
	return cfg
}

// openPool connects to Postgres and applies migrations, or returns nil when
// DATABASE_URL is unset.
func openPool(ctx context.Context) *pgxpool.Pool {
	dbURL := util.GetEnv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}
	if err := pgstore.Migrate(dbURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pool, err := pgstore.NewPool(ctx, dbURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	return pool
}

func openGraphStore(ctx context.Context, pool *pgxpool.Pool) (store.GraphStore, func()) {
	switch kind := util.GetEnvString("GRAPH_STORE", "neo4j"); kind {
	case "neo4j":
		s, err := neo4j.New(ctx, neo4j.Config{
			URI:      util.GetEnvString("NEO4J_URI", "bolt://localhost:7687"),
			Username: util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		})
		if err != nil {
			logger.Fatal("Could not open graph store", "store", kind, "err", err)
		}
		return s, func() { _ = s.Close(context.Background()) }
	case "pgx":
		if pool == nil {
			logger.Fatal("GRAPH_STORE=pgx requires DATABASE_URL")
		}
		return pgstore.NewGraphDBStorageWithConnection(pool), func() {}
	case "memory":
		logger.Warn("Using the in-memory graph store, the graph is lost on exit")
		return store.NewMemoryStore(), func() {}
	default:
		logger.Fatal("Unknown GRAPH_STORE", "store", kind)
	}
	return nil, nil
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnv("LOG_FORMAT") == "json",
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg := loadDomainConfig()
	aiClient := newAIClient(cfg)

	pool := openPool(ctx)
	if pool != nil {
		defer pool.Close()
	}
	graphStore, closeStore := openGraphStore(ctx, pool)
	defer closeStore()

	var schemas ontology.SchemaStore
	var locker leaselock.Locker
	if pool != nil {
		schemas = pgstore.NewOntologyStore(pool)
		locker = leaselock.New(pool)
	} else {
		schemas = ontology.NewFileStore(util.GetEnvString("ONTOLOGY_PATH", "ontology"))
		locker = leaselock.NewLocal()
	}

	p, err := pipeline.New(aiClient, cfg, pipeline.WithStore(graphStore))
	if err != nil {
		logger.Fatal("Could not create pipeline", "err", err)
	}

	conn := queue.Init(ctx)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.BatchQueue); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	hostname, _ := os.Hostname()
	proc := &queue.Processor{
		Pipeline:  p,
		Schemas:   schemas,
		Locker:    locker,
		Publisher: queue.ChannelPublisher{Ch: ch},
		LockOptions: leaselock.Options{
			TTL:         util.GetEnvDuration("LEASE_TTL", 5*time.Minute),
			Wait:        true,
			TokenPrefix: hostname,
		},
	}
	docs, err := storage.NewS3FromEnv(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}
	if docs != nil {
		proc.Documents = docs
		proc.Archive = docs
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = queue.Consume(ctx, consumerCh, queue.BatchQueue, func(ctx context.Context, body []byte) error {
		defer aiClient.ResetMetrics()
		err := proc.Process(ctx, body)

		metrics := aiClient.GetMetrics()
		logger.Info(
			"AI Metrics",
			"input_tokens", metrics.InputTokens,
			"output_tokens", metrics.OutputTokens,
			"total_tokens", metrics.TotalTokens,
			"requests", metrics.Requests,
			"duration", timing.Clock(time.Duration(metrics.DurationMs)*time.Millisecond),
		)
		return err
	})
	if err != nil {
		logger.Fatal("Failed to consume", "queue", queue.BatchQueue, "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
