package sign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

const fixturePassword = "secreto123"

// newP12Fixture builds a self-signed certificate packed as PKCS#12, the same
// shape a tenant uploads from the DGII-issued .p12 file.
func newP12Fixture(t *testing.T) ([]byte, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Empresa Demo SRL", Organization: []string{"101017961"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	p12, err := pkcs12.Modern.Encode(key, cert, nil, fixturePassword)
	require.NoError(t, err)
	return p12, cert
}

func TestSignEnveloped(t *testing.T) {
	p12, cert := newP12Fixture(t)
	unsigned := []byte(`<?xml version="1.0" encoding="UTF-8"?><ECF><Encabezado><IdDoc><eNCF>E3100000005</eNCF></IdDoc></Encabezado></ECF>`)

	signed, err := NewSigner().Sign(unsigned, p12, fixturePassword, "")
	require.NoError(t, err)

	s := string(signed)
	assert.Contains(t, s, "Signature")
	assert.Contains(t, s, "SignatureValue")
	assert.Contains(t, s, "X509Certificate")
	assert.Contains(t, s, "<eNCF>E3100000005</eNCF>", "payload survives signing")

	// The signature must verify against the embedded certificate.
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	store := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}}
	vctx := dsig.NewDefaultValidationContext(store)
	_, err = vctx.Validate(doc.Root())
	assert.NoError(t, err)
}

func TestSignTargetPath(t *testing.T) {
	p12, _ := newP12Fixture(t)
	unsigned := []byte(`<SemillaModel><valor>abc123</valor><fecha>2026-08-31</fecha></SemillaModel>`)

	signed, err := NewSigner().Sign(unsigned, p12, fixturePassword, "//SemillaModel")
	require.NoError(t, err)
	assert.Contains(t, string(signed), "SignatureValue")
	assert.Contains(t, string(signed), "<valor>abc123</valor>")
}

func TestSignErrors(t *testing.T) {
	p12, _ := newP12Fixture(t)
	unsigned := []byte(`<ECF><X/></ECF>`)

	t.Run("wrong password", func(t *testing.T) {
		_, err := NewSigner().Sign(unsigned, p12, "wrong", "")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	})

	t.Run("malformed container", func(t *testing.T) {
		_, err := NewSigner().Sign(unsigned, []byte("not a p12"), fixturePassword, "")
		assert.ErrorIs(t, err, ErrMalformedCertificate)
	})

	t.Run("target not found", func(t *testing.T) {
		_, err := NewSigner().Sign(unsigned, p12, fixturePassword, "//NoSuchElement")
		assert.ErrorIs(t, err, ErrTargetNotFound)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := NewSigner().SignFile(unsigned, "/nonexistent/cert.p12", fixturePassword, "")
		assert.ErrorIs(t, err, ErrCertificateNotFound)
	})
}

func TestSignFile(t *testing.T) {
	p12, _ := newP12Fixture(t)
	path := filepath.Join(t.TempDir(), "tenant.p12")
	require.NoError(t, os.WriteFile(path, p12, 0o600))

	signed, err := NewSigner().SignFile([]byte(`<ECF><A/></ECF>`), path, fixturePassword, "")
	require.NoError(t, err)
	assert.Contains(t, string(signed), "SignatureValue")
}
