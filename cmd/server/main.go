package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"

	"promptlab/internal/assembly"
	"promptlab/internal/config"
	"promptlab/internal/database"
	"promptlab/internal/events"
	"promptlab/internal/handlers"
	"promptlab/internal/jobs"
	"promptlab/internal/logging"
	"promptlab/internal/metrics"
	"promptlab/internal/registry"
	"promptlab/internal/services"
	"promptlab/internal/strategy"
	"promptlab/internal/tokens"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Println("🚀 Starting PromptLab Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Model family: %s)", cfg.Port, cfg.ModelFamily)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init(cfg.Environment)

	instanceID := uuid.New().String()

	// Token estimator and strategy table
	estimator := tokens.NewEstimator(tokens.Config{
		CharsPerToken: cfg.CharsPerToken,
		ModelFamily:   cfg.ModelFamily,
	})

	strategies := strategy.NewTable()
	var stopWatch func()
	if cfg.StrategyOverridesPath != "" {
		if err := strategies.LoadOverrides(cfg.StrategyOverridesPath); err != nil {
			log.Printf("⚠️ Failed to load strategy overrides: %v (using built-ins)", err)
		} else if cfg.WatchOverrides {
			var err error
			stopWatch, err = strategies.Watch(cfg.StrategyOverridesPath)
			if err != nil {
				log.Printf("⚠️ Failed to watch strategy overrides: %v", err)
			}
		}
	}

	assembler := assembly.NewAssembler(estimator, strategies)
	log.Println("✅ Context assembler initialized")

	// Initialize MongoDB (optional - falls back to in-memory metric storage
	// and file-based snapshots)
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		var err error
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (using in-memory storage)", err)
			mongoDB = nil
		} else {
			defer mongoDB.Close(context.Background())
			if err := mongoDB.Initialize(context.Background()); err != nil {
				log.Printf("⚠️ Failed to initialize MongoDB indexes: %v", err)
			}
		}
	} else {
		log.Println("⚠️ MONGODB_URI not set - using in-memory metric storage")
	}

	var metricStore metrics.Store
	var snapshotStore registry.SnapshotStore
	if mongoDB != nil {
		metricStore = metrics.NewMongoStore(mongoDB.Collection(database.CollectionGenerationMetrics))
		snapshotStore = registry.NewMongoSnapshotStore(mongoDB.Collection(database.CollectionVariantSnapshots))
	} else {
		metricStore = metrics.NewMemoryStore()
		snapshotStore = registry.NewFileSnapshotStore(cfg.SnapshotPath)
	}

	// Variant registry, restored from the latest snapshot when one exists
	reg := registry.NewRegistry(registry.Config{
		ChampionMass:           cfg.ChampionMass,
		CandidateMass:          cfg.CandidateMass,
		ActiveMass:             cfg.ExperimentalMass,
		RedistributeEmptyTiers: cfg.RedistributeTiers,
	})
	if snap, err := snapshotStore.Load(context.Background()); err != nil {
		log.Printf("⚠️ Failed to load variant snapshot: %v (starting empty)", err)
	} else if snap != nil {
		if err := reg.Restore(*snap); err != nil {
			log.Printf("⚠️ Failed to restore variant snapshot: %v (starting empty)", err)
		} else {
			log.Printf("✅ Restored %d variants from snapshot (%s)", len(snap.Variants), snap.SavedAt.Format(time.RFC3339))
		}
	}

	// Initialize Redis (optional - for cross-instance lifecycle events and
	// the snapshot lock)
	var redisClient *events.RedisClient
	var lifecycleBus *events.LifecycleBus
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisClient, err = events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (lifecycle events disabled)", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			lifecycleBus = events.NewLifecycleBus(redisClient, instanceID)
			if err := lifecycleBus.Start(); err != nil {
				log.Printf("⚠️ Failed to start lifecycle bus: %v", err)
				lifecycleBus = nil
			}
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - cross-instance lifecycle events disabled")
	}

	// Metrics collector. The ops gauge polls the collector, so register the
	// gauge with a closure and construct the collector right after.
	var collector *metrics.Collector
	ops := services.InitMetrics(prom.DefaultRegisterer, func() int {
		if collector == nil {
			return 0
		}
		return collector.BufferDepth()
	})
	log.Println("✅ Prometheus metrics initialized")

	collector = metrics.NewCollector(metricStore, reg, metrics.Config{
		BufferSize:    cfg.MetricsBufferSize,
		FlushInterval: cfg.MetricsFlushInterval,
		FlushTimeout:  cfg.MetricsFlushTimeout,
		MinSampleSize: cfg.MinSampleSize,
		LatencyCapMs:  cfg.LatencyCapMs,
	}, ops)
	collector.Start()

	// Broadcast lifecycle transitions to sibling instances
	if lifecycleBus != nil {
		reg.SetLifecycleHook(lifecycleBus.Publish)
		defer lifecycleBus.Stop()
	}

	// Background jobs: nightly retention pruning, periodic registry snapshots
	scheduler := jobs.NewScheduler(ops)
	if mongoDB != nil {
		scheduler.Register("retention", jobs.NewRetentionJob(metricStore, mongoDB.Collection(database.CollectionVariantSnapshots), cfg.RetentionDays))
	} else {
		scheduler.Register("retention", jobs.NewRetentionJob(metricStore, nil, cfg.RetentionDays))
	}
	scheduler.Register("snapshot", jobs.NewSnapshotJob(reg, snapshotStore, redisClient, instanceID, cfg.SnapshotInterval))
	scheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "PromptLab v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BodyLimit:    10 * 1024 * 1024, // research files arrive inline
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("promptlab")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(mongoDB, redisClient, collector)
	assemblyHandler := handlers.NewAssemblyHandler(assembler, strategies, estimator, ops)
	variantHandler := handlers.NewVariantHandler(reg, ops)
	generationHandler := handlers.NewGenerationHandler(collector, cfg.StatsCacheTTL)

	// Routes
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	api.Post("/context/assemble", assemblyHandler.Assemble)
	api.Get("/context/strategies", assemblyHandler.Strategies)
	api.Post("/tokens/estimate", assemblyHandler.Estimate)

	api.Post("/variants", variantHandler.Create)
	api.Get("/variants", variantHandler.List)
	api.Get("/variants/champion", variantHandler.Champion)
	api.Post("/variants/select", variantHandler.Select)
	api.Get("/variants/:id", variantHandler.Get)
	api.Post("/variants/:id/promote", variantHandler.Promote)
	api.Post("/variants/:id/pause", variantHandler.Pause)
	api.Post("/variants/:id/resume", variantHandler.Resume)
	api.Post("/variants/:id/retire", variantHandler.Retire)
	api.Post("/variants/:id/candidate", variantHandler.SetCandidate)
	api.Put("/variants/:id/weight", variantHandler.UpdateWeight)

	api.Post("/generations", generationHandler.Record)
	api.Patch("/generations/:id/feedback", generationHandler.Feedback)
	api.Get("/stats", generationHandler.Stats)
	api.Get("/abtest", generationHandler.ABTest)

	// Rate limiter for manual flushes (each one hits storage directly)
	flushLimiter := limiter.New(limiter.Config{
		Max:        6,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "flush:" + c.IP()
		},
	})
	api.Post("/admin/flush", flushLimiter, generationHandler.Flush)

	// Graceful shutdown: stop jobs, flush buffered metrics, save a final
	// registry snapshot
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down...")
		if stopWatch != nil {
			stopWatch()
		}
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := collector.Shutdown(ctx); err != nil {
			log.Printf("⚠️ Final metrics flush failed: %v", err)
		}
		if err := snapshotStore.Save(ctx, reg.Snapshot()); err != nil {
			log.Printf("⚠️ Final snapshot save failed: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
