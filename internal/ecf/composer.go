// Package ecf builds the canonical XML representation of an e-CF document.
// Composition is deterministic: the same invoice, items, and profile always
// produce byte-identical XML, because the digital signature covers that
// exact byte stream.
package ecf

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
	"github.com/vmhowley/DigitBill-sub000/internal/taxid"
)

// fechaFormat is the DD-MM-YYYY issue date layout used on e-CF documents.
const fechaFormat = "02-01-2006"

var (
	ErrMissingENCF         = errors.New("invoice has no fiscal number assigned")
	ErrMissingIssueDate    = errors.New("invoice has no issue date")
	ErrNoItems             = errors.New("invoice has no line items")
	ErrMissingReference    = errors.New("nota requires the ENCF of the amended document")
	ErrInvalidBuyerTaxID   = errors.New("buyer tax id fails checksum validation")
	ErrTotalsMismatch      = errors.New("invoice totals do not match line items")
	ErrInvalidDocumentType = errors.New("unknown e-CF document type")
)

// Composer turns a numbered invoice into unsigned e-CF XML. It performs no
// I/O; persistence and signing belong to the caller.
type Composer struct{}

func NewComposer() *Composer { return &Composer{} }

// Compose validates coherence and renders the document. The invoice must
// already carry its ENCF and issue date — composition happens after the
// sequence reservation inside the issuance transaction.
func (c *Composer) Compose(
	inv *model.Invoice,
	items []model.InvoiceItem,
	profile *model.FiscalProfile,
	client *model.Client,
) ([]byte, error) {
	if err := validate(inv, items, client); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ECF")
	enc := root.CreateElement("Encabezado")
	enc.CreateElement("Version").SetText("1.0")

	idDoc := enc.CreateElement("IdDoc")
	idDoc.CreateElement("TipoeCF").SetText(string(inv.TipoECF))
	idDoc.CreateElement("eNCF").SetText(*inv.ENCF)
	idDoc.CreateElement("FechaEmision").SetText(inv.IssuedAt.Format(fechaFormat))
	if inv.TipoECF.IsNote() {
		idDoc.CreateElement("eNCFModificado").SetText(*inv.ModifiesENCF)
	}

	emisor := enc.CreateElement("Emisor")
	emisor.CreateElement("RNCEmisor").SetText(profile.RNC)
	emisor.CreateElement("RazonSocialEmisor").SetText(profile.RazonSocial)
	emisor.CreateElement("DireccionEmisor").SetText(profile.Direccion)

	comprador := enc.CreateElement("Comprador")
	comprador.CreateElement("RNCComprador").SetText(client.TaxID)
	comprador.CreateElement("RazonSocialComprador").SetText(client.Nombre)
	comprador.CreateElement("DireccionComprador").SetText(client.Direccion)

	totales := enc.CreateElement("Totales")
	totales.CreateElement("MontoGravadoTotal").SetText(inv.MontoGravado.StringFixed(2))
	totales.CreateElement("TotalITBIS").SetText(inv.TotalITBIS.StringFixed(2))
	totales.CreateElement("MontoTotal").SetText(inv.MontoTotal.StringFixed(2))

	detalles := root.CreateElement("DetallesItems")
	for i, it := range items {
		item := detalles.CreateElement("Item")
		item.CreateElement("NumeroLinea").SetText(strconv.Itoa(i + 1))
		item.CreateElement("NombreItem").SetText(it.Descripcion)
		item.CreateElement("CantidadItem").SetText(it.Cantidad.StringFixed(2))
		item.CreateElement("PrecioUnitarioItem").SetText(it.PrecioUnitario.StringFixed(2))
		item.CreateElement("TasaITBIS").SetText(it.TasaITBIS.StringFixed(2))
		item.CreateElement("MontoItem").SetText(it.MontoItem.StringFixed(2))
		item.CreateElement("ITBISItem").SetText(it.ITBISItem.StringFixed(2))
	}

	return doc.WriteToBytes()
}

// validate enforces the document-level invariants: type catalog, amendment
// reference, buyer identity checksum, and total coherence against the items.
func validate(inv *model.Invoice, items []model.InvoiceItem, client *model.Client) error {
	if !inv.TipoECF.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentType, inv.TipoECF)
	}
	if inv.ENCF == nil || *inv.ENCF == "" {
		return ErrMissingENCF
	}
	if inv.IssuedAt == nil {
		return ErrMissingIssueDate
	}
	if len(items) == 0 {
		return ErrNoItems
	}
	if inv.TipoECF.IsNote() && (inv.ModifiesENCF == nil || *inv.ModifiesENCF == "") {
		return ErrMissingReference
	}

	// Crédito fiscal and gubernamental documents require a checksum-valid
	// buyer identifier; consumo documents may go to final consumers.
	if inv.TipoECF == ncf.TipoCreditoFiscal || inv.TipoECF == ncf.TipoGubernamental {
		if _, ok := taxid.Validate(client.TaxID); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidBuyerTaxID, client.TaxID)
		}
	}

	var sumMonto, sumITBIS decimal.Decimal
	for _, it := range items {
		sumMonto = sumMonto.Add(it.MontoItem)
		sumITBIS = sumITBIS.Add(it.ITBISItem)
	}
	if !inv.MontoGravado.Equal(sumMonto) {
		return fmt.Errorf("%w: monto gravado %s vs items %s",
			ErrTotalsMismatch, inv.MontoGravado.StringFixed(2), sumMonto.StringFixed(2))
	}
	if !inv.TotalITBIS.Equal(sumITBIS) {
		return fmt.Errorf("%w: ITBIS %s vs items %s",
			ErrTotalsMismatch, inv.TotalITBIS.StringFixed(2), sumITBIS.StringFixed(2))
	}
	if !inv.MontoTotal.Equal(inv.MontoGravado.Add(inv.TotalITBIS)) {
		return fmt.Errorf("%w: total %s vs gravado+ITBIS %s",
			ErrTotalsMismatch, inv.MontoTotal.StringFixed(2),
			inv.MontoGravado.Add(inv.TotalITBIS).StringFixed(2))
	}
	return nil
}
