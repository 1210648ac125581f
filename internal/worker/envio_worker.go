package worker

// envio_worker.go
// Processes DGII submission jobs from QueueEnvio: looks up the signed
// invoice and pushes it to the authority through the issuance service.
// In-call retries use exponential backoff; anything still failing after
// that is left to the retry cron, which reads next_retry_at.

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vmhowley/DigitBill-sub000/internal/dgii"
	"github.com/vmhowley/DigitBill-sub000/internal/service"
)

// EnvioJobPayload is the job envelope sent to QueueEnvio.
type EnvioJobPayload struct {
	TenantID  string `json:"tenant_id"`
	InvoiceID string `json:"invoice_id"`
}

// EnvioWorker submits signed invoices to the DGII asynchronously.
type EnvioWorker struct {
	issuance service.IssuanceService
}

func NewEnvioWorker(issuance service.IssuanceService) *EnvioWorker {
	return &EnvioWorker{issuance: issuance}
}

// Process handles a single submission job. Transport errors are retried
// in-call with backoff (1s, 2s); rejections and state errors are terminal
// here — the service has already recorded why.
func (w *EnvioWorker) Process(ctx context.Context, raw json.RawMessage) {
	var payload EnvioJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("envio_worker: invalid payload")
		return
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		log.Error().Str("tenant_id", payload.TenantID).Msg("envio_worker: invalid tenant_id")
		return
	}
	invoiceID, err := uuid.Parse(payload.InvoiceID)
	if err != nil {
		log.Error().Str("invoice_id", payload.InvoiceID).Msg("envio_worker: invalid invoice_id")
		return
	}

	sendErr := withRetry(ctx, 3, func(attempt int) error {
		_, err := w.issuance.Send(ctx, tenantID, invoiceID)
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return backoffAbort{err}
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("invoice_id", payload.InvoiceID).
			Msg("envio_worker: submission attempt failed, retrying")
		return err
	})
	if sendErr != nil {
		log.Error().
			Err(sendErr).
			Str("invoice_id", payload.InvoiceID).
			Msg("envio_worker: submission failed, left to retry cron")
		return
	}

	log.Info().
		Str("invoice_id", payload.InvoiceID).
		Msg("envio_worker: invoice submitted")
}

// isTerminal reports failures that another attempt cannot fix.
func isTerminal(err error) bool {
	return errors.Is(err, dgii.ErrRejected) ||
		errors.Is(err, dgii.ErrAuthFailed) ||
		errors.Is(err, service.ErrNotIssued) ||
		errors.Is(err, service.ErrVoided) ||
		errors.Is(err, service.ErrElectronicDisabled) ||
		errors.Is(err, service.ErrInvoiceNotFound)
}

// backoffAbort wraps an error that must stop the retry loop immediately.
type backoffAbort struct{ err error }

func (a backoffAbort) Error() string { return a.err.Error() }
func (a backoffAbort) Unwrap() error { return a.err }

// withRetry calls fn up to maxAttempts times with exponential backoff.
// Backoff schedule: attempt 1 = immediate, 2 = 1s, 3 = 2s.
// A backoffAbort return stops the loop at once.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := fn(i)
		if err == nil {
			return nil
		}
		var abort backoffAbort
		if errors.As(err, &abort) {
			return abort.err
		}
		lastErr = err
	}
	return lastErr
}
