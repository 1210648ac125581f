// Package sign produces XML-DSig enveloped signatures with a tenant's
// PKCS#12 certificate. The same routine signs authority seed challenges and
// full e-CF documents; only the target element differs.
package sign

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"software.sslmate.com/src/go-pkcs12"
)

// Certificate/password failures are configuration errors with a different
// retry policy than transport errors — they never resolve on their own.
var (
	ErrCertificateNotFound  = errors.New("certificate file not found")
	ErrInvalidPassword      = errors.New("certificate password is incorrect")
	ErrMalformedCertificate = errors.New("certificate container is malformed")
	ErrTargetNotFound       = errors.New("signature target element not found")
)

// Signer is stateless; key material lives only inside each call.
type Signer struct{}

func NewSigner() *Signer { return &Signer{} }

// memoryKeyStore adapts a decoded key pair to goxmldsig's keystore interface.
type memoryKeyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (ks *memoryKeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert, nil
}

// SignFile loads the PKCS#12 container from disk and signs the document at
// targetPath (an etree path; empty means the root element).
func (s *Signer) SignFile(xml []byte, certPath, password, targetPath string) ([]byte, error) {
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCertificateNotFound, certPath)
		}
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return s.Sign(xml, certBytes, password, targetPath)
}

// Sign decodes the PKCS#12 container, injects an enveloped ds:Signature at
// the element identified by targetPath, and returns the signed document.
func (s *Signer) Sign(xml, certBytes []byte, password, targetPath string) ([]byte, error) {
	key, cert, err := pkcs12.Decode(certBytes, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCertificate, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrMalformedCertificate)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xml); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	target := doc.Root()
	if targetPath != "" {
		if target = doc.FindElement(targetPath); target == nil {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetPath)
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: document has no root", ErrTargetNotFound)
	}

	signingCtx := dsig.NewDefaultSigningContext(&memoryKeyStore{
		key:  rsaKey,
		cert: cert.Raw,
	})
	signed, err := signingCtx.SignEnveloped(target)
	if err != nil {
		return nil, fmt.Errorf("sign element: %w", err)
	}

	// Swap the unsigned target for its signed copy, preserving position.
	if parent := target.Parent(); parent != nil {
		idx := target.Index()
		parent.RemoveChild(target)
		parent.InsertChildAt(idx, signed)
	} else {
		doc.SetRoot(signed)
	}

	return doc.WriteToBytes()
}
