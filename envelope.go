package courier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/misc"
)

// ErrPayloadTooLarge is returned by Encode for plaintexts above misc.MaxPayloadSize
var ErrPayloadTooLarge = errors.New("payload too large")

// Envelope is the wire representation of an encrypted payload.
//
// JSON encoding (binary fields as standard padded base64):
//
//	{
//	  "iv":         "<12 bytes>",
//	  "ciphertext": "<len(plaintext) bytes>",
//	  "authTag":    "<16 bytes>",
//	  "wrappedKey": "<protected data key, omitted in direct mode>"
//	}
//
// An Envelope is built per outbound call, consumed once by the backend and
// never persisted.
type Envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"authTag"`
	WrappedKey []byte `json:"wrappedKey,omitempty"`
}

// Marshal returns the JSON wire form of e
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes the JSON wire form. Structural problems are
// reported as *MalformedEnvelopeError; field lengths are checked by Decode.
func ParseEnvelope(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, &MalformedEnvelopeError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if env.IV == nil || env.AuthTag == nil {
		return nil, &MalformedEnvelopeError{Reason: "missing iv or authTag"}
	}
	if env.Ciphertext == nil {
		env.Ciphertext = []byte{}
	}
	return &env, nil
}

// Codec encrypts plaintexts into envelopes and back with an AEAD.
//
// A Codec holds no key and no mutable state: it is safe for concurrent use
// and every Encode draws its own nonce from crypto/rand. Nonces are never
// accepted from callers.
type Codec struct {
	cipher string
}

// NewCodec returns a codec for cipherName (chacha20-poly1305 or aes-256-gcm)
func NewCodec(cipherName string) (*Codec, error) {
	if cipherName == "" {
		cipherName = crypto.CipherChaCha20Poly1305
	}
	// probe the name with a throwaway key so bad config fails at construction
	if _, err := crypto.NewAEAD(cipherName, make([]byte, misc.KeySize)); err != nil {
		return nil, &ConfigurationError{Field: "cipher", Reason: "unsupported", Err: err}
	}
	return &Codec{cipher: cipherName}, nil
}

// Cipher returns the AEAD name this codec uses
func (c *Codec) Cipher() string { return c.cipher }

// Encode encrypts plaintext under key with a fresh random nonce.
//
// The returned envelope decodes to exactly plaintext under the same key.
// Empty plaintext is valid and still yields an iv and an auth tag.
func (c *Codec) Encode(plaintext, key []byte) (*Envelope, error) {
	return c.EncodeWithAAD(plaintext, key, nil)
}

// EncodeWithAAD is Encode with associated data bound into the auth tag.
// The same aad must be presented to DecodeWithAAD.
func (c *Codec) EncodeWithAAD(plaintext, key, aad []byte) (*Envelope, error) {
	if len(key) != misc.KeySize {
		return nil, ErrInvalidKey
	}
	if len(plaintext) > misc.MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	aead, err := crypto.NewAEAD(c.cipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce, ciphertext, tag, err := crypto.SealDetached(aead, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return &Envelope{IV: nonce, Ciphertext: ciphertext, AuthTag: tag}, nil
}

// Decode verifies and decrypts env under key.
//
// It fails with *MalformedEnvelopeError when field lengths are wrong and
// with *IntegrityError when the tag does not verify. Plaintext is only
// released after successful verification.
func (c *Codec) Decode(env *Envelope, key []byte) ([]byte, error) {
	return c.DecodeWithAAD(env, key, nil)
}

// DecodeWithAAD is Decode for envelopes produced by EncodeWithAAD
func (c *Codec) DecodeWithAAD(env *Envelope, key, aad []byte) ([]byte, error) {
	if env == nil {
		return nil, &MalformedEnvelopeError{Reason: "nil envelope"}
	}
	if len(env.IV) != misc.NonceSize {
		return nil, &MalformedEnvelopeError{Reason: fmt.Sprintf("iv must be %d bytes, got %d", misc.NonceSize, len(env.IV))}
	}
	if len(env.AuthTag) != misc.TagSize {
		return nil, &MalformedEnvelopeError{Reason: fmt.Sprintf("authTag must be %d bytes, got %d", misc.TagSize, len(env.AuthTag))}
	}
	if len(env.Ciphertext) > misc.MaxPayloadSize {
		return nil, &MalformedEnvelopeError{Reason: "ciphertext too large"}
	}
	if len(key) != misc.KeySize {
		return nil, ErrInvalidKey
	}

	aead, err := crypto.NewAEAD(c.cipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := crypto.OpenDetached(aead, env.IV, env.Ciphertext, env.AuthTag, aad)
	if err != nil {
		return nil, &IntegrityError{Err: err}
	}
	return plaintext, nil
}
