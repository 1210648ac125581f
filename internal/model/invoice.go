package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
)

// Invoice lifecycle states. Transitions are one-directional:
// draft → signed → sent, or draft → voided. An invoice holding an ENCF is
// never deleted, only marked voided.
const (
	StatusDraft  = "draft"
	StatusSigned = "signed"
	StatusSent   = "sent"
	StatusVoided = "voided"
)

// Invoice stores one commercial/fiscal document of a tenant.
// ENCF and SignedXML stay nil until issuance assigns them; both are written
// exactly once, inside the same transaction as the sequence reservation.
type Invoice struct {
	ID       uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID        `gorm:"type:uuid;index;not null"`
	ClientID uuid.UUID        `gorm:"type:uuid;index;not null"`
	Client   *Client          `gorm:"foreignKey:ClientID"`
	TipoECF  ncf.DocumentType `gorm:"type:varchar(2);not null;column:tipo_ecf"`
	// ModifiesENCF references the amended document for notas (tipos 33/34)
	ModifiesENCF *string         `gorm:"type:varchar(13);column:modifies_encf"`
	MontoGravado decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TotalITBIS   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0;column:total_itbis"`
	MontoTotal   decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	// Uniqueness of (tenant_id, encf) is a partial index created in
	// infra.applySchemaPatches; AutoMigrate cannot express it.
	ENCF         *string         `gorm:"type:varchar(13);column:encf"`
	SignedXML    *string         `gorm:"type:text;column:signed_xml"`
	Status       string          `gorm:"type:varchar(10);not null;default:'draft';index"`
	TrackID      *string         `gorm:"type:varchar(60);column:track_id"`
	VoidReason   *string         `gorm:"type:varchar(200);column:void_reason"`
	IssuedAt     *time.Time      `gorm:"column:issued_at"`
	Items        []InvoiceItem   `gorm:"foreignKey:InvoiceID"`
	// Retry fields — used by retry_cron to re-attempt failed DGII submissions
	RetryCount  int        `gorm:"not null;default:0"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at"`
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InvoiceItem is owned exclusively by one Invoice and is immutable once the
// parent leaves draft.
type InvoiceItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	InvoiceID      uuid.UUID       `gorm:"type:uuid;index;not null"`
	Descripcion    string          `gorm:"type:varchar(200);not null"`
	Cantidad       decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	PrecioUnitario decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TasaITBIS      decimal.Decimal `gorm:"type:decimal(5,2);not null;column:tasa_itbis"`
	MontoItem      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ITBISItem      decimal.Decimal `gorm:"type:decimal(18,2);not null;column:itbis_item"`
}
