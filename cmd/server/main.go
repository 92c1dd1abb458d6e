package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/challenge"
	"vigil/internal/enrollment"
	"vigil/internal/extractor"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	platformmetrics "vigil/internal/platform/metrics"
	platformredis "vigil/internal/platform/redis"
	"vigil/internal/surveillance"
	surveillancemetrics "vigil/internal/surveillance/metrics"
	httptransport "vigil/internal/transport/http"
	"vigil/internal/verify"
	verifymetrics "vigil/internal/verify/metrics"
)

// main wires the engine together: config, stores (in-memory unless
// Postgres/Redis/Kafka are configured), the biometric engines, the session
// manager and the HTTP surface. Business logic lives in the internal
// packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	var enrolls enrollment.Store = enrollment.NewMemoryStore()
	var trailStore audit.Store = audit.NewMemoryStore()
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres unreachable", "error", err)
			os.Exit(1)
		}
		enrolls = enrollment.NewPostgres(db)
		trailStore = audit.NewPostgres(db)
		health["postgres"] = db.PingContext
		log.Info("postgres storage enabled")
	}

	var challengeStore challenge.Store = challenge.NewMemoryStore()
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		challengeStore = challenge.NewRedis(redisClient.Client)
		health["redis"] = redisClient.Health
		log.Info("redis challenge store enabled")
	}

	var publisher audit.Publisher
	if len(cfg.KafkaSeeds) > 0 {
		kafka, err := audit.NewKafkaPublisher(ctx, cfg.KafkaSeeds, cfg.KafkaTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
		log.Info("kafka audit publishing enabled", "topic", cfg.KafkaTopic)
	}

	trail := audit.NewLogger(trailStore, publisher, log)
	go func() {
		if err := trail.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	fusion, err := biometric.NewFusion(biometric.FusionConfig{
		FaceWeight:          cfg.FaceWeight,
		VoiceWeight:         cfg.VoiceWeight,
		MultimodalThreshold: cfg.MultimodalThreshold,
		MinFaceScore:        cfg.MinFaceScore,
		MinVoiceScore:       cfg.MinVoiceScore,
		FaceOnlyThreshold:   cfg.FaceOnlyThreshold,
		VoiceOnlyThreshold:  cfg.VoiceOnlyThreshold,
		HardFloor:           cfg.HardFloor,
	})
	if err != nil {
		log.Error("invalid fusion configuration", "error", err)
		os.Exit(1)
	}
	matcher := biometric.NewMatcher()

	scheduler, err := challenge.NewScheduler(challengeStore, cfg.ChallengePhrases, cfg.ChallengeResponseWindow)
	if err != nil {
		log.Error("invalid challenge configuration", "error", err)
		os.Exit(1)
	}

	extractorClient := extractor.NewClient(cfg.FaceExtractorURL, cfg.VoiceExtractorURL, cfg.ExtractorTimeout)

	verifier := verify.New(enrolls, extractorClient, matcher, fusion, trail, verifymetrics.New(), log)
	manager := surveillance.NewManager(ctx, cfg, enrolls, extractorClient, matcher, fusion, scheduler, trail, surveillancemetrics.New(), log)

	handler := httptransport.NewHandler(verifier, manager, log)
	router := httptransport.NewRouter(handler, health, platformmetrics.New())
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("vigil listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	manager.Close()
	trail.Flush(shutdownCtx)
}
