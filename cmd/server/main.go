package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vmhowley/DigitBill-sub000/internal/config"
	"github.com/vmhowley/DigitBill-sub000/internal/infra"
	"github.com/vmhowley/DigitBill-sub000/internal/repository"
	"github.com/vmhowley/DigitBill-sub000/internal/router"
	"github.com/vmhowley/DigitBill-sub000/internal/worker"
)

func main() {
	// Structured logger — dev: pretty, prod: JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Async submission pipeline: worker pool drains the Redis queue, the
	// retry cron re-attempts failed submissions through the circuit breaker.
	dgiiCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	issuanceSvc := router.BuildIssuanceService(cfg, db)

	envioWorker := worker.NewEnvioWorker(issuanceSvc)
	worker.StartWorkerPool(ctx, rdb, cfg.WorkerPoolSize, envioWorker)
	worker.StartRetryCron(ctx, worker.RetryCronConfig{
		Invoices: repository.NewInvoiceRepository(db),
		Issuance: issuanceSvc,
		CB:       dgiiCB,
		RDB:      rdb,
		Clock:    clockwork.NewRealClock(),
	})

	r := router.New(cfg, db, rdb, dgiiCB)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("DigitBill backend listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}
