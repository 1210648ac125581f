package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vmhowley/DigitBill-sub000/internal/model"
)

type InvoiceRepository interface {
	FindWithItems(ctx context.Context, tenantID, id uuid.UUID) (*model.Invoice, error)
	// FindForIssue locks the invoice row for the duration of the issuance
	// transaction so two concurrent issue calls cannot both see draft.
	FindForIssue(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID) (*model.Invoice, error)
	MarkIssued(ctx context.Context, tx *gorm.DB, inv *model.Invoice) error
	MarkSent(ctx context.Context, id uuid.UUID, trackID string) error
	MarkVoided(ctx context.Context, tenantID, id uuid.UUID, reason string) error
	Update(ctx context.Context, inv *model.Invoice) error
	ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]model.Invoice, error)
}

type invoiceRepo struct{ db *gorm.DB }

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository { return &invoiceRepo{db: db} }

func (r *invoiceRepo) FindWithItems(ctx context.Context, tenantID, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	err := r.db.WithContext(ctx).Preload("Items").Preload("Client").
		Where("tenant_id = ?", tenantID).First(&inv, "id = ?", id).Error
	return &inv, err
}

func (r *invoiceRepo) FindForIssue(ctx context.Context, tx *gorm.DB, tenantID, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).First(&inv, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	// Associations are loaded without the lock; only the invoice row itself
	// needs serializing.
	if err := tx.WithContext(ctx).Where("invoice_id = ?", inv.ID).Find(&inv.Items).Error; err != nil {
		return nil, err
	}
	var client model.Client
	if err := tx.WithContext(ctx).First(&client, "id = ?", inv.ClientID).Error; err != nil {
		return nil, err
	}
	inv.Client = &client
	return &inv, nil
}

func (r *invoiceRepo) MarkIssued(ctx context.Context, tx *gorm.DB, inv *model.Invoice) error {
	return tx.WithContext(ctx).Model(&model.Invoice{}).Where("id = ?", inv.ID).
		Updates(map[string]interface{}{
			"encf":       inv.ENCF,
			"signed_xml": inv.SignedXML,
			"status":     inv.Status,
			"issued_at":  inv.IssuedAt,
		}).Error
}

// MarkSent transitions signed → sent. The status guard makes the transition
// first-writer-wins: a concurrent send that lost the race gets
// ErrRecordNotFound instead of overwriting the recorded track id.
func (r *invoiceRepo) MarkSent(ctx context.Context, id uuid.UUID, trackID string) error {
	result := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("id = ? AND status = ?", id, model.StatusSigned).
		Updates(map[string]interface{}{
			"status":        model.StatusSent,
			"track_id":      trackID,
			"next_retry_at": nil,
			"last_error":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *invoiceRepo) MarkVoided(ctx context.Context, tenantID, id uuid.UUID, reason string) error {
	result := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("tenant_id = ? AND id = ? AND status IN ?", tenantID, id, []string{model.StatusDraft, model.StatusSigned}).
		Updates(map[string]interface{}{"status": model.StatusVoided, "void_reason": reason})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *invoiceRepo) Update(ctx context.Context, inv *model.Invoice) error {
	return r.db.WithContext(ctx).Save(inv).Error
}

func (r *invoiceRepo) ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]model.Invoice, error) {
	var invoices []model.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", model.StatusSigned, now).
		Order("next_retry_at").Limit(limit).Find(&invoices).Error
	return invoices, err
}
