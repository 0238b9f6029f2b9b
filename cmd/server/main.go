package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"attesto/internal/challenge"
	challengehandler "attesto/internal/challenge/handler"
	challengemetrics "attesto/internal/challenge/metrics"
	challengestore "attesto/internal/challenge/store"
	"attesto/internal/clients/biometric"
	"attesto/internal/clients/fhe"
	"attesto/internal/clients/ocr"
	"attesto/internal/clients/signer"
	"attesto/internal/crypto"
	"attesto/internal/platform/config"
	"attesto/internal/platform/httpserver"
	"attesto/internal/platform/logger"
	platformpg "attesto/internal/platform/postgres"
	platformredis "attesto/internal/platform/redis"
	"attesto/internal/ratelimit"
	"attesto/internal/session"
	httptransport "attesto/internal/transport/http"
	"attesto/internal/verification/finalize"
	"attesto/internal/verification/handler"
	"attesto/internal/verification/intake"
	"attesto/internal/verification/liveness"
	vmetrics "attesto/internal/verification/metrics"
	"attesto/internal/verification/store"
	"attesto/pkg/platform/audit"
	auditpublisher "attesto/pkg/platform/audit/publisher"
	auditmemory "attesto/pkg/platform/audit/store/memory"
	auditworker "attesto/pkg/platform/audit/worker"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := platformpg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores: Postgres/Redis when configured, memory otherwise.
	var (
		stores   *finalize.Stores
		sessions session.Store
	)
	if db != nil {
		stores = finalize.StoresFromPostgres(store.NewPostgres(db))
		sessions = session.NewPostgres(db)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		stores = finalize.StoresFromMemory(store.NewMemory())
		sessions = session.NewMemoryStore()
	}

	var challengeStore challenge.Store
	if redisClient != nil {
		challengeStore = challengestore.NewRedisStore(redisClient.Client)
	} else {
		log.Warn("no redis configured, using in-memory challenge store")
		challengeStore = challengestore.NewMemoryStore()
	}

	var (
		auditPublisher audit.Publisher
		auditWorker    *auditworker.Worker
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := auditpublisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafka.Close(flushCtx); err != nil {
				log.Error("audit flush failed", "error", err)
			}
		}()
		auditPublisher = kafka
	} else {
		log.Warn("no kafka configured, keeping audit trail in memory")
		channel := auditpublisher.NewChannel(1024, log)
		auditWorker = auditworker.NewWorker(auditmemory.New(), channel.Events())
		auditPublisher = channel
	}

	sealerKey := cfg.SealerKeyHex
	if sealerKey == "" {
		// Ephemeral key: sealed fields from this run are unreadable after a
		// restart. Fine for development, never for production.
		log.Warn("no sealer key configured, generating an ephemeral key")
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Error("sealer key generation failed", "error", err)
			os.Exit(1)
		}
		sealerKey = hex.EncodeToString(buf)
	}
	sealer, err := crypto.NewSealer(sealerKey)
	if err != nil {
		log.Error("sealer key invalid", "error", err)
		os.Exit(1)
	}

	metrics := vmetrics.New()

	ocrClient := ocr.New(cfg.OCRBaseURL, nil)
	detector := biometric.New(cfg.BiometricBaseURL, nil)
	signerClient := signer.New(cfg.SignerBaseURL, nil)
	fheClient := fhe.New(cfg.FHEBaseURL, nil)

	limiter := ratelimit.NewFixedWindow(cfg.IntakeRateLimit, cfg.IntakeRateWindow)

	intakeOpts := []intake.Option{
		intake.WithLogger(log),
		intake.WithMetrics(metrics),
	}
	if auditPublisher != nil {
		intakeOpts = append(intakeOpts, intake.WithAudit(auditPublisher))
	}
	intakeSvc, err := intake.New(stores.Drafts, stores.Documents, sessions, ocrClient, sealer, limiter, intakeOpts...)
	if err != nil {
		log.Error("intake service init failed", "error", err)
		os.Exit(1)
	}

	livenessSvc, err := liveness.New(stores.Drafts, sessions, detector,
		liveness.WithLogger(log),
		liveness.WithMetrics(metrics),
		liveness.WithThresholds(liveness.Thresholds{
			Antispoof: cfg.AntispoofThreshold,
			Liveness:  cfg.LivenessThreshold,
			FaceMatch: cfg.FaceMatchThreshold,
		}),
	)
	if err != nil {
		log.Error("liveness service init failed", "error", err)
		os.Exit(1)
	}

	finalizeOpts := []finalize.Option{
		finalize.WithLogger(log),
		finalize.WithMetrics(metrics),
		finalize.WithFaceMatchThreshold(cfg.FaceMatchThreshold),
	}
	if auditPublisher != nil {
		finalizeOpts = append(finalizeOpts, finalize.WithAudit(auditPublisher))
	}
	finalizeSvc, err := finalize.New(stores, signerClient, fheClient, finalizeOpts...)
	if err != nil {
		log.Error("finalize service init failed", "error", err)
		os.Exit(1)
	}

	challengeOpts := []challenge.Option{
		challenge.WithLogger(log),
		challenge.WithMetrics(challengemetrics.New()),
	}
	if auditPublisher != nil {
		challengeOpts = append(challengeOpts, challenge.WithAudit(auditPublisher))
	}
	challengeSvc, err := challenge.New(challengeStore, cfg.ChallengeTTL, challengeOpts...)
	if err != nil {
		log.Error("challenge service init failed", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(
		handler.New(intakeSvc, livenessSvc, finalizeSvc, sessions, log),
		challengehandler.New(challengeSvc, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting attesto", "addr", cfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	if auditWorker != nil {
		g.Go(func() error {
			if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Let claimed jobs finish so none are abandoned mid-run.
		finalizeSvc.Scheduler().Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
