package ncf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, ENCF("E3100000005"), Format(TipoCreditoFiscal, 5))
	assert.Equal(t, ENCF("E3200000001"), Format(TipoConsumo, 1))
	assert.Equal(t, ENCF("E3499999999"), Format(TipoNotaCredito, 99999999))
	// Counters wider than 8 digits are not truncated.
	assert.Equal(t, ENCF("E31100000000"), Format(TipoCreditoFiscal, 100000000))
}

func TestDocumentTypeValid(t *testing.T) {
	for _, tipo := range []DocumentType{
		TipoCreditoFiscal, TipoConsumo, TipoNotaDebito, TipoNotaCredito,
		TipoCompras, TipoGastosMenores, TipoRegimenEspecial, TipoGubernamental,
	} {
		assert.True(t, tipo.Valid(), "tipo %s", tipo)
	}
	assert.False(t, DocumentType("00").Valid())
	assert.False(t, DocumentType("").Valid())
	assert.False(t, DocumentType("B01").Valid())
}

func TestIsNote(t *testing.T) {
	assert.True(t, TipoNotaDebito.IsNote())
	assert.True(t, TipoNotaCredito.IsNote())
	assert.False(t, TipoCreditoFiscal.IsNote())
	assert.False(t, TipoConsumo.IsNote())
}
