package courier

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/google/tink/go/kwp/subtle"
	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/misc"
)

const (
	AlgorithmRSAOAEP = "RSA-OAEP-256"
	AlgorithmAESKWP  = "AES-KWP"
)

// KeyProtector wraps symmetric key material for the backend.
//
// Only RSAProtector guarantees that the private-key holder alone can recover
// the key, with randomized output. KWPProtector wraps under a key derived
// from the shared secret, which the client also holds, and its output is
// deterministic for a given key. There is no Unwrap on either.
type KeyProtector interface {
	Wrap(symmetricKey []byte) ([]byte, error)
	Algorithm() string
}

// RSAProtector wraps keys with RSA-OAEP-SHA256 under the server public key.
// OAEP is randomized, so two wraps of the same key differ.
type RSAProtector struct {
	pub *rsa.PublicKey
}

var _ KeyProtector = (*RSAProtector)(nil)

// NewRSAProtector parses publicKeyPEM (PKIX or PKCS#1)
func NewRSAProtector(publicKeyPEM []byte) (*RSAProtector, error) {
	pub, err := crypto.ParseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, &ConfigurationError{Field: "public_key_pem", Reason: "malformed", Err: err}
	}
	return &RSAProtector{pub: pub}, nil
}

// MaxKeySize is the largest key this protector can wrap: k - 2*hLen - 2
func (p *RSAProtector) MaxKeySize() int {
	return crypto.MaxOAEPPayload(p.pub)
}

// Wrap encrypts symmetricKey under the public key. Keys larger than
// MaxKeySize fail with *KeyProtectionError.
func (p *RSAProtector) Wrap(symmetricKey []byte) ([]byte, error) {
	if len(symmetricKey) == 0 {
		return nil, &KeyProtectionError{Reason: "empty key"}
	}
	if len(symmetricKey) > p.MaxKeySize() {
		return nil, &KeyProtectionError{
			Reason: fmt.Sprintf("key is %d bytes, %d-bit RSA-OAEP-SHA256 wraps at most %d",
				len(symmetricKey), p.pub.N.BitLen(), p.MaxKeySize()),
		}
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, p.pub, symmetricKey, nil)
	if err != nil {
		return nil, &KeyProtectionError{Reason: "RSA-OAEP encryption failed", Err: err}
	}
	return wrapped, nil
}

func (p *RSAProtector) Algorithm() string { return AlgorithmRSAOAEP }

// WrapKey wraps symmetricKey with the RSA public key in publicKeyPEM
func WrapKey(symmetricKey, publicKeyPEM []byte) ([]byte, error) {
	p, err := NewRSAProtector(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return p.Wrap(symmetricKey)
}

// KWPProtector wraps keys with AES key wrap with padding (RFC 5649) under a
// key-encryption key derived from the shared secret. KWP is deterministic:
// the same key wraps to the same bytes.
type KWPProtector struct {
	kwp *subtle.KWP
}

var _ KeyProtector = (*KWPProtector)(nil)

// NewKWPProtector builds a protector over a 16 or 32 byte kek. The kek can
// be wiped by the caller once this returns.
func NewKWPProtector(kek []byte) (*KWPProtector, error) {
	kwp, err := subtle.NewKWP(kek)
	if err != nil {
		return nil, &ConfigurationError{Field: "secret", Reason: "cannot build key-wrap cipher", Err: err}
	}
	return &KWPProtector{kwp: kwp}, nil
}

// Wrap wraps symmetricKey; KWP accepts keys of 16 bytes or more
func (p *KWPProtector) Wrap(symmetricKey []byte) ([]byte, error) {
	if len(symmetricKey) < 16 {
		return nil, &KeyProtectionError{Reason: fmt.Sprintf("key is %d bytes, AES-KWP needs at least 16", len(symmetricKey))}
	}
	wrapped, err := p.kwp.Wrap(symmetricKey)
	if err != nil {
		return nil, &KeyProtectionError{Reason: "AES-KWP wrap failed", Err: err}
	}
	return wrapped, nil
}

func (p *KWPProtector) Algorithm() string { return AlgorithmAESKWP }

// NewKeyProtector returns the protector the config's key mode calls for, or
// nil in direct mode and when encryption is disabled.
func NewKeyProtector(cfg *EncryptionConfig) (KeyProtector, error) {
	if !cfg.IsEncryptionEnabled() {
		return nil, nil
	}

	switch cfg.KeyMode() {
	case KeyModeRSA:
		p, err := NewRSAProtector(cfg.PublicKeyMaterial())
		if err != nil {
			return nil, err
		}
		return p, nil
	case KeyModeKWP:
		kek, err := crypto.DeriveKey(cfg.secret, cfg.KDF(), misc.HKDFInfoWrap)
		if err != nil {
			return nil, &ConfigurationError{Field: "secret", Reason: "cannot derive wrap key", Err: err}
		}
		defer kek.Destroy()
		p, err := NewKWPProtector(kek.Bytes())
		if err != nil {
			return nil, err
		}
		return p, nil
	case KeyModeDirect:
		return nil, nil
	default:
		return nil, &ConfigurationError{Field: "key_mode", Reason: fmt.Sprintf("unsupported value %q", cfg.KeyMode())}
	}
}
