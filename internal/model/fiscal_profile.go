package model

import (
	"time"

	"github.com/google/uuid"
)

// DGII environment selectors.
const (
	EnvTest       = "test"
	EnvProduction = "production"
)

// FiscalProfile holds the per-tenant electronic invoicing configuration:
// issuer identity, certificate location, and target DGII environment.
// Read-only to the issuance core; owned by tenant settings.
type FiscalProfile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	RNC         string    `gorm:"type:varchar(11);not null;column:rnc"`
	RazonSocial string    `gorm:"type:varchar(150);not null"`
	Direccion   string    `gorm:"type:varchar(200)"`
	// CertPath points at the tenant's PKCS#12 container; CertPassword is the
	// tenant-supplied secret, used only in memory during signing.
	CertPath          string `gorm:"type:varchar(255);column:cert_path"`
	CertPassword      string `gorm:"type:varchar(255);column:cert_password"`
	ElectronicEnabled bool   `gorm:"not null;default:false"`
	Environment       string `gorm:"type:varchar(12);not null;default:'test'"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Client is the buyer identity referenced by invoices.
type Client struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID `gorm:"type:uuid;index;not null"`
	// TaxID is an RNC (9 digits) or cédula (11 digits)
	TaxID     string `gorm:"type:varchar(11);not null"`
	Nombre    string `gorm:"type:varchar(150);not null"`
	Direccion string `gorm:"type:varchar(200)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
