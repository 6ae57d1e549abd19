package courier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/misc"
)

// ErrEncryptionDisabled is returned by Seal and Open on a disabled sealer.
// Callers check Enabled first and send plain bodies.
var ErrEncryptionDisabled = errors.New("encryption is disabled")

// Sealer applies the envelope protocol to request and response bodies.
//
// It is built once from the immutable EncryptionConfig and is safe for
// concurrent use: it holds only read-only state (the codec, the key
// protector and the secret-derived payload key in a memguard enclave).
//
// Key modes:
//
//	rsa, kwp: every Seal draws a fresh 32 byte data key, encrypts the body
//	          under it and stores the protected key in Envelope.WrappedKey.
//	direct:   bodies are encrypted under the payload key derived from the
//	          shared secret; WrappedKey is omitted.
//
// Open always uses the secret-derived payload key: the backend encrypts
// replies under it since the client has no private key to unwrap with.
//
// Every attempt is recorded on the audit logger with sizes and algorithm
// names only, never with plaintext.
type Sealer struct {
	enabled    bool
	keyMode    string
	codec      *Codec
	protector  KeyProtector
	payloadKey *memguard.Enclave
	audit      audit.Logger
}

// NewSealer builds a sealer over cfg. A nil auditLogger disables auditing.
func NewSealer(cfg *EncryptionConfig, auditLogger audit.Logger) (*Sealer, error) {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if !cfg.IsEncryptionEnabled() {
		return &Sealer{audit: auditLogger}, nil
	}

	codec, err := NewCodec(cfg.Cipher())
	if err != nil {
		return nil, err
	}

	protector, err := NewKeyProtector(cfg)
	if err != nil {
		return nil, err
	}

	payloadKey, err := crypto.DeriveKey(cfg.secret, cfg.KDF(), misc.HKDFInfoPayload)
	if err != nil {
		return nil, &ConfigurationError{Field: "secret", Reason: "cannot derive payload key", Err: err}
	}

	return &Sealer{
		enabled:    true,
		keyMode:    cfg.KeyMode(),
		codec:      codec,
		protector:  protector,
		payloadKey: payloadKey.Seal(),
		audit:      auditLogger,
	}, nil
}

// RequestAAD is the associated data bound into request and reply envelopes:
// the upper-cased method and the URL path, e.g. "POST /api/visitors".
func RequestAAD(method, path string) []byte {
	return []byte(strings.ToUpper(method) + " " + path)
}

// Enabled reports whether bodies are sealed
func (s *Sealer) Enabled() bool { return s.enabled }

// KeyAlgorithm names how data keys are protected: RSA-OAEP-256, AES-KWP or
// "direct".
func (s *Sealer) KeyAlgorithm() string {
	if s.protector == nil {
		return KeyModeDirect
	}
	return s.protector.Algorithm()
}

// Seal encrypts plaintext into an envelope. aad, typically the request
// method and path, is bound into the auth tag and must be reproduced by the
// backend.
func (s *Sealer) Seal(plaintext, aad []byte) (*Envelope, error) {
	if !s.enabled {
		return nil, ErrEncryptionDisabled
	}

	env, err := s.seal(plaintext, aad)
	if err != nil {
		s.audit.Log(audit.ActionEnvelopeSeal, false, map[string]interface{}{
			"data_size": len(plaintext),
			"key_alg":   s.KeyAlgorithm(),
			"error":     errorCategory(err),
		})
		return nil, err
	}

	s.audit.Log(audit.ActionEnvelopeSeal, true, map[string]interface{}{
		"data_size":   len(plaintext),
		"result_size": len(env.Ciphertext),
		"key_alg":     s.KeyAlgorithm(),
		"cipher":      s.codec.Cipher(),
	})
	return env, nil
}

func (s *Sealer) seal(plaintext, aad []byte) (*Envelope, error) {
	if s.protector == nil {
		keyBuffer, err := s.payloadKey.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to access payload key: %w", err)
		}
		defer keyBuffer.Destroy()
		return s.codec.EncodeWithAAD(plaintext, keyBuffer.Bytes(), aad)
	}

	dataKey := crypto.GenerateDataKey()
	defer dataKey.Destroy()

	env, err := s.codec.EncodeWithAAD(plaintext, dataKey.Bytes(), aad)
	if err != nil {
		return nil, err
	}

	wrapped, err := s.protector.Wrap(dataKey.Bytes())
	if err != nil {
		return nil, err
	}
	env.WrappedKey = wrapped
	return env, nil
}

// Open verifies and decrypts an envelope the backend sealed under the
// shared payload key. Failures are terminal and returned as-is.
func (s *Sealer) Open(env *Envelope, aad []byte) ([]byte, error) {
	if !s.enabled {
		return nil, ErrEncryptionDisabled
	}

	plaintext, err := s.open(env, aad)
	if err != nil {
		s.audit.Log(audit.ActionEnvelopeOpen, false, map[string]interface{}{
			"error": errorCategory(err),
		})
		return nil, err
	}

	s.audit.Log(audit.ActionEnvelopeOpen, true, map[string]interface{}{
		"result_size": len(plaintext),
		"cipher":      s.codec.Cipher(),
	})
	return plaintext, nil
}

func (s *Sealer) open(env *Envelope, aad []byte) ([]byte, error) {
	if env != nil && len(env.WrappedKey) > 0 {
		return nil, &MalformedEnvelopeError{Reason: "reply carries a wrapped key; replies must use the shared payload key"}
	}

	keyBuffer, err := s.payloadKey.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access payload key: %w", err)
	}
	defer keyBuffer.Destroy()

	return s.codec.DecodeWithAAD(env, keyBuffer.Bytes(), aad)
}

// errorCategory reduces an error to a label safe for audit records
func errorCategory(err error) string {
	var (
		integrityErr  *IntegrityError
		malformedErr  *MalformedEnvelopeError
		protectionErr *KeyProtectionError
	)
	switch {
	case errors.As(err, &integrityErr):
		return "integrity"
	case errors.As(err, &malformedErr):
		return "malformed"
	case errors.As(err, &protectionErr):
		return "key_protection"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	default:
		return "internal"
	}
}
