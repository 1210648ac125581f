package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/vmhowley/DigitBill-sub000/internal/dgii"
	"github.com/vmhowley/DigitBill-sub000/internal/dto"
	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
	"github.com/vmhowley/DigitBill-sub000/internal/repository"
)

var (
	ErrInvoiceNotFound      = errors.New("comprobante no encontrado")
	ErrProfileNotConfigured = errors.New("perfil fiscal del tenant no configurado")
	ErrAlreadyIssued        = errors.New("el comprobante ya fue emitido")
	ErrNotIssued            = errors.New("el comprobante aun no fue emitido")
	ErrNotSent              = errors.New("el comprobante aun no fue enviado a la DGII")
	ErrVoided               = errors.New("el comprobante esta anulado")
	ErrAlreadySent          = errors.New("el comprobante ya fue enviado, no puede anularse")
	ErrElectronicDisabled   = errors.New("facturacion electronica deshabilitada para el tenant")
	ErrNoSignedDocument     = errors.New("el comprobante no tiene XML firmado")
)

// maxSendRetries caps automatic resubmission; beyond it the invoice stays
// signed and waits for operator intervention.
const maxSendRetries = 5

// AuthorityClient is what the orchestrator needs from the DGII transport.
// *dgii.Client satisfies it; tests swap in a stub.
type AuthorityClient interface {
	Submit(ctx context.Context, tenantID uuid.UUID, creds dgii.Credentials, signedXML []byte) (string, error)
	CheckStatus(ctx context.Context, tenantID uuid.UUID, creds dgii.Credentials, trackID string) (*dgii.DeliveryStatus, error)
}

// AuthorityResolver maps a fiscal profile environment ("test", "production")
// to the client bound to that DGII base URL.
type AuthorityResolver func(environment string) AuthorityClient

// Composer renders the unsigned e-CF XML for an invoice.
type Composer interface {
	Compose(inv *model.Invoice, items []model.InvoiceItem, profile *model.FiscalProfile, client *model.Client) ([]byte, error)
}

// DocumentSigner signs an XML document with the tenant certificate on disk.
type DocumentSigner interface {
	SignFile(xmlData []byte, certPath, password, targetPath string) ([]byte, error)
}

type IssuanceService interface {
	Issue(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.IssueResponse, error)
	Send(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.SendResponse, error)
	Delivery(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.DeliveryResponse, error)
	Void(ctx context.Context, tenantID, invoiceID uuid.UUID, reason string) error
}

type issuanceService struct {
	tx        repository.TxRunner
	invoices  repository.InvoiceRepository
	sequences repository.SequenceRepository
	profiles  repository.FiscalProfileRepository
	composer  Composer
	signer    DocumentSigner
	authority AuthorityResolver
	clock     clockwork.Clock
}

func NewIssuanceService(
	tx repository.TxRunner,
	invoices repository.InvoiceRepository,
	sequences repository.SequenceRepository,
	profiles repository.FiscalProfileRepository,
	composer Composer,
	signer DocumentSigner,
	authority AuthorityResolver,
	clock clockwork.Clock,
) IssuanceService {
	return &issuanceService{
		tx:        tx,
		invoices:  invoices,
		sequences: sequences,
		profiles:  profiles,
		composer:  composer,
		signer:    signer,
		authority: authority,
		clock:     clock,
	}
}

// Issue assigns the next e-NCF of the invoice's document type, composes and
// signs the XML, and moves the invoice to signed. Everything runs in one
// transaction: if composing or signing fails the reserved number rolls back
// and the sequence stays gapless.
func (s *issuanceService) Issue(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.IssueResponse, error) {
	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, mapNotFound(err, ErrProfileNotConfigured)
	}

	var issued *model.Invoice
	err = s.tx.RunInTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.invoices.FindForIssue(ctx, tx, tenantID, invoiceID)
		if err != nil {
			return mapNotFound(err, ErrInvoiceNotFound)
		}
		switch inv.Status {
		case model.StatusDraft:
		case model.StatusVoided:
			return ErrVoided
		default:
			return fmt.Errorf("%w (%s)", ErrAlreadyIssued, deref(inv.ENCF))
		}

		now := s.clock.Now()
		number, err := s.sequences.ReserveNext(ctx, tx, tenantID, inv.TipoECF, now)
		if err != nil {
			return err
		}
		encf := string(ncf.Format(inv.TipoECF, number))
		inv.ENCF = &encf
		inv.IssuedAt = &now
		inv.Status = model.StatusSigned

		if profile.ElectronicEnabled {
			xmlData, err := s.composer.Compose(inv, inv.Items, profile, inv.Client)
			if err != nil {
				return err
			}
			signed, err := s.signer.SignFile(xmlData, profile.CertPath, profile.CertPassword, "")
			if err != nil {
				return err
			}
			signedStr := string(signed)
			inv.SignedXML = &signedStr
		}

		if err := s.invoices.MarkIssued(ctx, tx, inv); err != nil {
			return err
		}
		issued = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", invoiceID.String()).
		Str("encf", deref(issued.ENCF)).
		Msg("Comprobante emitido")

	return &dto.IssueResponse{
		InvoiceID: issued.ID.String(),
		ENCF:      deref(issued.ENCF),
		Status:    issued.Status,
	}, nil
}

// Send submits the signed XML to the DGII. It is idempotent: re-sending an
// already sent invoice returns the recorded track ID without a second
// submission. Transient failures schedule a retry; rejections do not.
func (s *issuanceService) Send(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.SendResponse, error) {
	inv, err := s.invoices.FindWithItems(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, mapNotFound(err, ErrInvoiceNotFound)
	}

	if inv.Status == model.StatusSent && inv.TrackID != nil {
		return &dto.SendResponse{InvoiceID: inv.ID.String(), TrackID: *inv.TrackID, Status: inv.Status}, nil
	}
	switch inv.Status {
	case model.StatusSigned:
	case model.StatusDraft:
		return nil, ErrNotIssued
	case model.StatusVoided:
		return nil, ErrVoided
	default:
		return nil, fmt.Errorf("estado invalido para envio: %s", inv.Status)
	}

	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, mapNotFound(err, ErrProfileNotConfigured)
	}
	if !profile.ElectronicEnabled {
		return nil, ErrElectronicDisabled
	}
	if inv.SignedXML == nil {
		return nil, ErrNoSignedDocument
	}

	creds := dgii.Credentials{CertPath: profile.CertPath, CertPassword: profile.CertPassword}
	trackID, err := s.authority(profile.Environment).Submit(ctx, tenantID, creds, []byte(*inv.SignedXML))
	if err != nil {
		s.recordSendFailure(ctx, inv, err)
		return nil, err
	}

	if err := s.invoices.MarkSent(ctx, inv.ID, trackID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A concurrent send won the race between the status check and the
			// guarded update. The invoice is sent; answer with the track id
			// that actually got recorded.
			current, ferr := s.invoices.FindWithItems(ctx, tenantID, invoiceID)
			if ferr == nil && current.Status == model.StatusSent && current.TrackID != nil {
				return &dto.SendResponse{InvoiceID: current.ID.String(), TrackID: *current.TrackID, Status: current.Status}, nil
			}
		}
		return nil, err
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("encf", deref(inv.ENCF)).
		Str("track_id", trackID).
		Msg("Comprobante enviado a la DGII")

	return &dto.SendResponse{InvoiceID: inv.ID.String(), TrackID: trackID, Status: model.StatusSent}, nil
}

// Delivery queries the DGII for the acceptance status of a sent invoice.
func (s *issuanceService) Delivery(ctx context.Context, tenantID, invoiceID uuid.UUID) (*dto.DeliveryResponse, error) {
	inv, err := s.invoices.FindWithItems(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, mapNotFound(err, ErrInvoiceNotFound)
	}
	if inv.TrackID == nil {
		return nil, ErrNotSent
	}

	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, mapNotFound(err, ErrProfileNotConfigured)
	}

	creds := dgii.Credentials{CertPath: profile.CertPath, CertPassword: profile.CertPassword}
	status, err := s.authority(profile.Environment).CheckStatus(ctx, tenantID, creds, *inv.TrackID)
	if err != nil {
		return nil, err
	}

	return &dto.DeliveryResponse{
		InvoiceID: inv.ID.String(),
		TrackID:   status.TrackID,
		Estado:    status.Estado,
		Mensajes:  status.Mensajes,
	}, nil
}

// Void cancels a draft or signed invoice. Sent invoices are immutable at the
// authority and cannot be voided here.
func (s *issuanceService) Void(ctx context.Context, tenantID, invoiceID uuid.UUID, reason string) error {
	inv, err := s.invoices.FindWithItems(ctx, tenantID, invoiceID)
	if err != nil {
		return mapNotFound(err, ErrInvoiceNotFound)
	}
	switch inv.Status {
	case model.StatusSent:
		return ErrAlreadySent
	case model.StatusVoided:
		return ErrVoided
	}
	if err := s.invoices.MarkVoided(ctx, tenantID, invoiceID, reason); err != nil {
		return mapNotFound(err, ErrInvoiceNotFound)
	}
	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", invoiceID.String()).
		Msg("Comprobante anulado")
	return nil
}

// recordSendFailure persists the retry bookkeeping after a failed submission.
// Rejections and auth failures are not retried automatically; transport
// errors get an exponential backoff slot picked up by the retry cron.
func (s *issuanceService) recordSendFailure(ctx context.Context, inv *model.Invoice, cause error) {
	msg := cause.Error()
	inv.LastError = &msg

	if errors.Is(cause, dgii.ErrRejected) || errors.Is(cause, dgii.ErrAuthFailed) {
		inv.NextRetryAt = nil
	} else {
		inv.RetryCount++
		if inv.RetryCount <= maxSendRetries {
			next := s.clock.Now().Add(retryBackoff(inv.RetryCount))
			inv.NextRetryAt = &next
		} else {
			inv.NextRetryAt = nil
		}
	}

	if err := s.invoices.Update(ctx, inv); err != nil {
		log.Error().Err(err).
			Str("invoice_id", inv.ID.String()).
			Msg("Error guardando estado de reintento")
	}
}

// retryBackoff returns 2^(n-1) minutes, capped at about an hour.
func retryBackoff(n int) time.Duration {
	if n > 7 {
		n = 7
	}
	return time.Duration(1<<uint(n-1)) * time.Minute
}

func mapNotFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
