package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vmhowley/DigitBill-sub000/internal/model"
)

type FiscalProfileRepository interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*model.FiscalProfile, error)
}

type fiscalProfileRepo struct{ db *gorm.DB }

func NewFiscalProfileRepository(db *gorm.DB) FiscalProfileRepository {
	return &fiscalProfileRepo{db: db}
}

func (r *fiscalProfileRepo) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*model.FiscalProfile, error) {
	var p model.FiscalProfile
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&p).Error
	return &p, err
}
