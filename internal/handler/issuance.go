package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vmhowley/DigitBill-sub000/internal/apierror"
	"github.com/vmhowley/DigitBill-sub000/internal/dgii"
	"github.com/vmhowley/DigitBill-sub000/internal/dto"
	"github.com/vmhowley/DigitBill-sub000/internal/ecf"
	"github.com/vmhowley/DigitBill-sub000/internal/middleware"
	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/service"
	"github.com/vmhowley/DigitBill-sub000/internal/sign"
	"github.com/vmhowley/DigitBill-sub000/internal/worker"
)

// EnvioEnqueuer queues a submission for the worker pool.
// *worker.Dispatcher satisfies it.
type EnvioEnqueuer interface {
	EnqueueEnvio(ctx context.Context, payload worker.EnvioJobPayload) error
}

type IssuanceHandler struct {
	svc        service.IssuanceService
	dispatcher EnvioEnqueuer
}

func NewIssuanceHandler(svc service.IssuanceService, dispatcher EnvioEnqueuer) *IssuanceHandler {
	return &IssuanceHandler{svc: svc, dispatcher: dispatcher}
}

// Issue assigns the next e-NCF and signs the document.
// POST /v1/invoices/:id/issue
func (h *IssuanceHandler) Issue(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Issue(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		c.JSON(issueStatus(err), apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Send submits the signed document to the DGII. With ?async=true the
// submission is enqueued and processed by the worker pool instead.
// POST /v1/invoices/:id/send
func (h *IssuanceHandler) Send(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	tenantID := middleware.GetTenantID(c)

	if c.Query("async") == "true" {
		payload := worker.EnvioJobPayload{TenantID: tenantID.String(), InvoiceID: id.String()}
		if err := h.dispatcher.EnqueueEnvio(c.Request.Context(), payload); err != nil {
			c.JSON(http.StatusInternalServerError, apierror.New("No se pudo encolar el envio"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"invoice_id": id.String(), "status": model.StatusSigned})
		return
	}

	resp, err := h.svc.Send(c.Request.Context(), tenantID, id)
	if err != nil {
		c.JSON(sendStatus(err), apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delivery queries the authority's verdict on a sent invoice.
// GET /v1/invoices/:id/delivery
func (h *IssuanceHandler) Delivery(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Delivery(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		c.JSON(sendStatus(err), apierror.New(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Void cancels a draft or signed invoice, keeping its e-NCF for the audit
// trail. DELETE /v1/invoices/:id
func (h *IssuanceHandler) Void(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req dto.AnularRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.svc.Void(c.Request.Context(), middleware.GetTenantID(c), id, req.Motivo); err != nil {
		c.JSON(issueStatus(err), apierror.New(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("ID invalido"))
		return uuid.Nil, false
	}
	return id, true
}

// issueStatus maps issuance/void failures to HTTP codes. State and tenant
// configuration problems are conflicts; malformed documents are 422.
func issueStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyIssued),
		errors.Is(err, service.ErrVoided),
		errors.Is(err, service.ErrAlreadySent),
		errors.Is(err, service.ErrProfileNotConfigured),
		errors.Is(err, model.ErrSequenceNotConfigured),
		errors.Is(err, model.ErrSequenceExpired),
		errors.Is(err, model.ErrSequenceExhausted),
		errors.Is(err, sign.ErrCertificateNotFound),
		errors.Is(err, sign.ErrInvalidPassword),
		errors.Is(err, sign.ErrMalformedCertificate):
		return http.StatusConflict
	case isComposeError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// sendStatus maps submission/consultation failures. Unknown errors are
// treated as authority transport problems.
func sendStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotIssued),
		errors.Is(err, service.ErrNotSent),
		errors.Is(err, service.ErrVoided),
		errors.Is(err, service.ErrElectronicDisabled),
		errors.Is(err, service.ErrNoSignedDocument),
		errors.Is(err, service.ErrProfileNotConfigured):
		return http.StatusConflict
	case errors.Is(err, dgii.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dgii.ErrAuthFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func isComposeError(err error) bool {
	for _, e := range []error{
		ecf.ErrMissingENCF, ecf.ErrMissingIssueDate, ecf.ErrNoItems,
		ecf.ErrMissingReference, ecf.ErrInvalidBuyerTaxID,
		ecf.ErrTotalsMismatch, ecf.ErrInvalidDocumentType,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
