package update

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
)

// Verifier checks a detached signature over raw package bytes.
type Verifier interface {
	Verify(data, signature []byte) error
}

type ed25519Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier wraps a trusted ed25519 public key.
func NewVerifier(key ed25519.PublicKey) Verifier {
	return &ed25519Verifier{key: key}
}

// NewVerifierFromFile loads the trusted public key from a PEM file.
func NewVerifierFromFile(path string) (Verifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading update public key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("update public key file %s contains no PEM block", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing update public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("update public key is %T, want ed25519", parsed)
	}
	return NewVerifier(key), nil
}

func (v *ed25519Verifier) Verify(data, signature []byte) error {
	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(v.key, data, signature) {
		return gwerrors.ErrSignatureRejected
	}
	return nil
}
