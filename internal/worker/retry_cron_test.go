package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/vmhowley/DigitBill-sub000/internal/infra"
	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/repository"
)

type stubInvoiceRepo struct {
	pending []model.Invoice
	cutoff  time.Time
}

var _ repository.InvoiceRepository = (*stubInvoiceRepo)(nil)

func (r *stubInvoiceRepo) FindWithItems(context.Context, uuid.UUID, uuid.UUID) (*model.Invoice, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubInvoiceRepo) FindForIssue(context.Context, *gorm.DB, uuid.UUID, uuid.UUID) (*model.Invoice, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubInvoiceRepo) MarkIssued(context.Context, *gorm.DB, *model.Invoice) error { return nil }

func (r *stubInvoiceRepo) MarkSent(context.Context, uuid.UUID, string) error { return nil }

func (r *stubInvoiceRepo) MarkVoided(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (r *stubInvoiceRepo) Update(context.Context, *model.Invoice) error { return nil }

func (r *stubInvoiceRepo) ListPendingRetries(_ context.Context, now time.Time, _ int) ([]model.Invoice, error) {
	r.cutoff = now
	return r.pending, nil
}

func TestProcessRetriesUsesInjectedClock(t *testing.T) {
	cronNow := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)
	repo := &stubInvoiceRepo{pending: []model.Invoice{
		{ID: uuid.New(), TenantID: uuid.New(), Status: model.StatusSigned, RetryCount: 1},
	}}
	issuance := &stubIssuance{}

	processRetries(context.Background(), RetryCronConfig{
		Invoices: repo,
		Issuance: issuance,
		CB:       infra.NewCircuitBreaker(infra.DefaultCBConfig()),
		Clock:    clockwork.NewFakeClockAt(cronNow),
	})

	assert.True(t, repo.cutoff.Equal(cronNow), "the retry cutoff must come from the injected clock")
	assert.Equal(t, 1, issuance.sends, "a due invoice is re-submitted")
}

func TestProcessRetriesSkipsWhenBreakerOpen(t *testing.T) {
	repo := &stubInvoiceRepo{pending: []model.Invoice{
		{ID: uuid.New(), TenantID: uuid.New(), Status: model.StatusSigned},
	}}
	issuance := &stubIssuance{}

	cb := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	})
	_ = cb.Execute(func() error { return context.DeadlineExceeded })
	assert.Equal(t, infra.CBOpen, cb.State())

	processRetries(context.Background(), RetryCronConfig{
		Invoices: repo,
		Issuance: issuance,
		CB:       cb,
		Clock:    clockwork.NewFakeClock(),
	})

	assert.Zero(t, issuance.sends, "an open breaker must short-circuit the whole tick")
	assert.True(t, repo.cutoff.IsZero(), "the pending query is not even issued")
}
