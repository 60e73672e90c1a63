package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/api/handlers"
	redisCache "github.com/medivault/backend/internal/cache/redis"
	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/clinical/lexicon"
	"github.com/medivault/backend/internal/emergency"
	"github.com/medivault/backend/internal/ingestion"
	"github.com/medivault/backend/internal/kg/builder"
	"github.com/medivault/backend/internal/kg/neo4j"
	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/internal/middleware/ratelimit"
	"github.com/medivault/backend/internal/middleware/security"
	"github.com/medivault/backend/internal/middleware/validation"
	"github.com/medivault/backend/internal/query"
	"github.com/medivault/backend/internal/storage/sqlite"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/config"
	appLogger "github.com/medivault/backend/pkg/logger"
)

const apiPrefix = "/api/v1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting MediVault API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	lex := lexicon.Default().Extend(lexicon.Extension{
		Allergens:   cfg.Summarizer.ExtraAllergens,
		Medications: cfg.Summarizer.ExtraMedications,
		Conditions:  cfg.Summarizer.ExtraConditions,
	})
	composer := summary.NewComposer(extract.New(lex), summary.Capabilities{RuleBased: cfg.Summarizer.RuleBased})

	var processorOpts []ingestion.Option
	engineOpts := []query.Option{query.WithTopK(cfg.Search.TopK)}

	// Redis and Neo4j are optional; the service runs without them.
	var cache *redisCache.Client
	if cfg.Redis.Enabled {
		cache, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, search cache disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			processorOpts = append(processorOpts, ingestion.WithCache(cache))
			engineOpts = append(engineOpts, query.WithCache(cache, time.Duration(cfg.Search.CacheTTLSec)*time.Second))
		}
	}

	var factReader handlers.FactReader
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(
			cfg.Neo4j.URI,
			cfg.Neo4j.Username,
			cfg.Neo4j.Password,
			cfg.Neo4j.Database,
		)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, fact graph disabled", zap.Error(err))
		} else {
			defer neo4jClient.Close(context.Background())
			processorOpts = append(processorOpts, ingestion.WithGraph(builder.NewBuilder(neo4jClient)))
			factReader = neo4jClient
		}
	}

	processor := ingestion.NewProcessor(sqliteClient, composer, ingestion.Config{
		ChunkSize:         cfg.Search.ChunkSize,
		ChunkOverlapWords: 20,
		RegenWorkers:      cfg.Summarizer.RegenWorkers,
	}, processorOpts...)

	aggregator := emergency.NewAggregator(sqliteClient, emergency.Config{
		ResponseBudget: time.Duration(cfg.Emergency.ResponseBudgetSec) * time.Second,
		AuditTimeout:   time.Duration(cfg.Emergency.AuditTimeoutMs) * time.Millisecond,
		HistoryLimit:   cfg.Emergency.HistoryLimit,
		Vocabulary:     lex.Emergency,
	})

	queryEngine := query.NewEngine(sqliteClient, engineOpts...)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins(cfg.Security.AllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins:  cfg.Security.AllowedOrigins,
		IsDevelopment:   cfg.Security.IsDevelopment,
		NoStorePrefixes: []string{apiPrefix + "/emergency", apiPrefix + "/records", apiPrefix + "/patients", apiPrefix + "/search"},
	}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Skip: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), apiPrefix+"/emergency")
		},
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()

	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	emergencyHandler := handlers.NewEmergencyHandler(aggregator)
	queryHandler := handlers.NewQueryHandler(queryEngine)
	factsHandler := handlers.NewFactsHandler(factReader)
	wsHandler := handlers.NewWebSocketHandler(aggregator)

	api := app.Group(apiPrefix)
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/records/:id/summary", documentHandler.GetSummary)
	api.Post("/records/:id/summary", documentHandler.RegenerateSummary)
	api.Post("/patients/:healthID/summaries/regenerate", documentHandler.RegeneratePatient)
	api.Get("/patients/:healthID/facts", factsHandler.PatientFacts)

	api.Get("/emergency", emergencyHandler.GetBrief)
	api.Post("/emergency", emergencyHandler.PostBrief)
	api.Get("/emergency/:healthID/history", emergencyHandler.History)

	api.Post("/search", queryHandler.HandleSearch)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "database unreachable",
			})
		}

		status := fiber.Map{"status": "ready", "database": "ok"}
		if cache != nil {
			status["cache"] = cache.BreakerState().String()
		}
		status["graph"] = factReader != nil
		return c.JSON(status)
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/emergency", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func allowOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}
