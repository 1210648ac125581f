package dto

// ─── Request DTOs ────────────────────────────────────────────────────────────

// AnularRequest carries the operator's reason for voiding an invoice.
type AnularRequest struct {
	Motivo string `json:"motivo" validate:"required,min=3,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

// IssueResponse reports the outcome of the draft→signed transition.
type IssueResponse struct {
	InvoiceID string `json:"invoice_id"`
	ENCF      string `json:"encf"`
	Status    string `json:"status"`
}

// SendResponse reports the outcome of the signed→sent transition.
type SendResponse struct {
	InvoiceID string `json:"invoice_id"`
	TrackID   string `json:"track_id"`
	Status    string `json:"status"`
}

// DeliveryResponse carries the authority's verdict for a sent invoice.
type DeliveryResponse struct {
	InvoiceID string   `json:"invoice_id"`
	TrackID   string   `json:"track_id"`
	Estado    string   `json:"estado"`
	Mensajes  []string `json:"mensajes,omitempty"`
}
