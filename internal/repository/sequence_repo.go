package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
)

type SequenceRepository interface {
	// ReserveNext allocates the next fiscal number for (tenant, tipo) under
	// a row lock. It must run inside the same transaction that assigns the
	// number to the invoice — allocation and assignment commit or roll back
	// together.
	ReserveNext(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, tipo ncf.DocumentType, today time.Time) (int64, error)
	FindByTenantAndTipo(ctx context.Context, tenantID uuid.UUID, tipo ncf.DocumentType) (*model.Sequence, error)
}

type sequenceRepo struct{ db *gorm.DB }

func NewSequenceRepository(db *gorm.DB) SequenceRepository { return &sequenceRepo{db: db} }

func (r *sequenceRepo) ReserveNext(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, tipo ncf.DocumentType, today time.Time) (int64, error) {
	var seq model.Sequence
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND tipo_ecf = ?", tenantID, tipo).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, model.ErrSequenceNotConfigured
	}
	if err != nil {
		return 0, err
	}

	n, err := seq.Next(today)
	if err != nil {
		return 0, err
	}

	if err := tx.WithContext(ctx).Model(&model.Sequence{}).Where("id = ?", seq.ID).
		Update("next_number", seq.NextNumber).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *sequenceRepo) FindByTenantAndTipo(ctx context.Context, tenantID uuid.UUID, tipo ncf.DocumentType) (*model.Sequence, error) {
	var seq model.Sequence
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND tipo_ecf = ?", tenantID, tipo).First(&seq).Error
	return &seq, err
}
