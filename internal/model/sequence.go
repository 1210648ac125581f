package model

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
)

// Sequence allocation failures. All three are configuration/exhaustion
// conditions that a retry cannot fix — callers must not treat them as
// transient.
var (
	ErrSequenceNotConfigured = errors.New("no sequence configured for tenant and document type")
	ErrSequenceExpired       = errors.New("sequence authorization has expired")
	ErrSequenceExhausted     = errors.New("sequence range is exhausted")
)

// Sequence holds the DGII-authorized numbering range for one
// (tenant, document type) pair. NextNumber only ever increases and is
// mutated exclusively under a row lock inside the issuance transaction.
type Sequence struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID     uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_sequences_tenant_tipo"`
	TipoECF      ncf.DocumentType `gorm:"type:varchar(2);not null;column:tipo_ecf;uniqueIndex:idx_sequences_tenant_tipo"`
	NextNumber   int64            `gorm:"not null;default:1"`
	EndingNumber *int64
	// ExpiresAt is the DGII authorization cutoff: allocation fails after this
	// date regardless of remaining range.
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Next validates expiry and range, returns the number to assign, and
// advances NextNumber. Pure with respect to I/O — the caller is responsible
// for holding the row lock and persisting the mutation atomically with the
// invoice that consumes the number.
func (s *Sequence) Next(today time.Time) (int64, error) {
	if today.After(s.ExpiresAt) {
		return 0, ErrSequenceExpired
	}
	if s.EndingNumber != nil && s.NextNumber > *s.EndingNumber {
		return 0, ErrSequenceExhausted
	}
	n := s.NextNumber
	s.NextNumber++
	return n, nil
}
