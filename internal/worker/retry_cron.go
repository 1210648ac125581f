package worker

// retry_cron.go
// Background goroutine that periodically re-attempts DGII submissions for
// invoices stuck in signed with a next_retry_at in the past.
// Uses the Circuit Breaker to avoid hammering a downed authority.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vmhowley/DigitBill-sub000/internal/infra"
	"github.com/vmhowley/DigitBill-sub000/internal/repository"
	"github.com/vmhowley/DigitBill-sub000/internal/service"
)

const (
	retryTickInterval = 30 * time.Second
	retryBatchSize    = 10

	// MaxEnvioRetries is the cutoff after which an invoice goes to the DLQ
	// and stops being retried automatically.
	MaxEnvioRetries = 5
)

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	Invoices repository.InvoiceRepository
	Issuance service.IssuanceService
	CB       *infra.CircuitBreaker
	RDB      *redis.Client
	// Clock decides the retry cutoff; tests pin it with a fake.
	Clock clockwork.Clock
}

// StartRetryCron launches a background goroutine that ticks every 30s,
// queries signed invoices whose retry slot has arrived, and re-attempts
// submission through the CB. It respects the context for graceful shutdown.
func StartRetryCron(ctx context.Context, cfg RetryCronConfig) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	go func() {
		ticker := time.NewTicker(retryTickInterval)
		defer ticker.Stop()

		log.Info().Msg("retry_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				processRetries(ctx, cfg)
			}
		}
	}()
}

func processRetries(ctx context.Context, cfg RetryCronConfig) {
	// If CB is open, skip entirely — don't hammer a downed authority
	if cfg.CB.State() == infra.CBOpen {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return
	}

	pending, err := cfg.Invoices.ListPendingRetries(ctx, cfg.Clock.Now(), retryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to query pending retries")
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Info().Int("count", len(pending)).Msg("retry_cron: processing pending invoices")

	for i := range pending {
		inv := &pending[i]

		// Check CB state before each call — it may have tripped mid-batch
		if cfg.CB.State() == infra.CBOpen {
			log.Debug().Msg("retry_cron: circuit breaker opened mid-batch, stopping")
			return
		}

		cbErr := cfg.CB.Execute(func() error {
			_, err := cfg.Issuance.Send(ctx, inv.TenantID, inv.ID)
			return err
		})
		if cbErr == nil {
			log.Info().
				Str("invoice_id", inv.ID.String()).
				Int("total_retries", inv.RetryCount).
				Msg("retry_cron: invoice submitted after retry")
			continue
		}

		// Send already recorded RetryCount/NextRetryAt/LastError; the cron
		// only decides when to give up.
		attempts := inv.RetryCount + 1
		if attempts >= MaxEnvioRetries {
			payload, _ := json.Marshal(EnvioJobPayload{
				TenantID:  inv.TenantID.String(),
				InvoiceID: inv.ID.String(),
			})
			SendToDLQ(ctx, cfg.RDB, QueueEnvio, "envio", payload, cbErr.Error(), attempts)
			log.Error().
				Str("invoice_id", inv.ID.String()).
				Int("retries", attempts).
				Msg("retry_cron: max retries exceeded, moved to DLQ")
			continue
		}

		log.Warn().
			Err(cbErr).
			Str("invoice_id", inv.ID.String()).
			Int("retry_count", attempts).
			Msg("retry_cron: submission retry failed, next attempt scheduled")
	}
}
