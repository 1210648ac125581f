// Package ncf holds the e-CF document type catalog and the formatting of
// fiscal numbers (NCF). The raw sequence counter is an int64; the formatted
// ENCF string exists only for presentation and persistence of the assigned
// number — the two must never be conflated.
package ncf

import "fmt"

// DocumentType is the two-digit e-CF type code assigned by the DGII.
type DocumentType string

const (
	TipoCreditoFiscal   DocumentType = "31" // factura de crédito fiscal
	TipoConsumo         DocumentType = "32" // factura de consumo
	TipoNotaDebito      DocumentType = "33"
	TipoNotaCredito     DocumentType = "34"
	TipoCompras         DocumentType = "41"
	TipoGastosMenores   DocumentType = "43"
	TipoRegimenEspecial DocumentType = "44"
	TipoGubernamental   DocumentType = "45"
)

// seriesPrefix identifies electronic comprobantes ("E" series).
const seriesPrefix = "E"

// sequenceDigits is the fixed width of the zero-padded counter.
const sequenceDigits = 8

// Valid reports whether t is a known e-CF type code.
func (t DocumentType) Valid() bool {
	switch t {
	case TipoCreditoFiscal, TipoConsumo, TipoNotaDebito, TipoNotaCredito,
		TipoCompras, TipoGastosMenores, TipoRegimenEspecial, TipoGubernamental:
		return true
	}
	return false
}

// IsNote reports whether t amends a prior document and therefore requires
// a reference ENCF.
func (t DocumentType) IsNote() bool {
	return t == TipoNotaDebito || t == TipoNotaCredito
}

// ENCF is a formatted electronic fiscal number, e.g. "E3100000005".
type ENCF string

func (e ENCF) String() string { return string(e) }

// Format builds the externally visible fiscal number from a type code and
// a raw counter: series prefix + type code + zero-padded counter.
func Format(t DocumentType, n int64) ENCF {
	return ENCF(fmt.Sprintf("%s%s%0*d", seriesPrefix, t, sequenceDigits, n))
}
