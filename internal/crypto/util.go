package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"southwinds.dev/courier/internal/misc"
)

const (
	CipherChaCha20Poly1305 = "chacha20-poly1305"
	CipherAES256GCM        = "aes-256-gcm"

	KDFHKDF     = "hkdf-sha256"
	KDFArgon2id = "argon2id"
	KDFPBKDF2   = "pbkdf2-sha256"
)

// ErrAuthentication is returned when an AEAD refuses to open a ciphertext
var ErrAuthentication = errors.New("message authentication failed")

// NewAEAD creates the AEAD named by cipherName over a 32 byte key
func NewAEAD(cipherName string, key []byte) (cipher.AEAD, error) {
	if len(key) != misc.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", misc.KeySize, len(key))
	}

	switch cipherName {
	case "", CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create block cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("unsupported cipher: %s", cipherName)
	}
}

// SealDetached encrypts plaintext under a fresh random nonce and returns the
// nonce, ciphertext and tag as separate slices.
func SealDetached(aead cipher.AEAD, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	nonce = make([]byte, aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()

	ciphertext = make([]byte, split)
	copy(ciphertext, sealed[:split])
	tag = make([]byte, aead.Overhead())
	copy(tag, sealed[split:])

	return nonce, ciphertext, tag, nil
}

// OpenDetached verifies tag over nonce, ciphertext and aad before returning
// the plaintext. Any mismatch yields ErrAuthentication and no plaintext.
func OpenDetached(aead cipher.AEAD, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	if len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("tag must be %d bytes, got %d", aead.Overhead(), len(tag))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// DeriveKey derives a 32 byte key from the secret held in secretEnclave.
// The derivation is deterministic so the backend can reproduce it from the
// same shared secret; info separates keys used for different purposes.
func DeriveKey(secretEnclave *memguard.Enclave, kdf, info string) (*memguard.LockedBuffer, error) {
	secretBuffer, err := secretEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open secret enclave: %w", err)
	}
	defer secretBuffer.Destroy()

	var derived []byte
	switch kdf {
	case "", KDFHKDF:
		derived = make([]byte, misc.KeySize)
		reader := hkdf.New(sha256.New, secretBuffer.Bytes(), nil, []byte(info))
		if _, err = io.ReadFull(reader, derived); err != nil {
			memguard.WipeBytes(derived)
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	case KDFArgon2id:
		salt := sha256.Sum256([]byte(info))
		derived = argon2.IDKey(
			secretBuffer.Bytes(),
			salt[:],
			misc.ArgonTime,
			misc.ArgonMemory,
			misc.ArgonThreads,
			misc.KeySize,
		)
	case KDFPBKDF2:
		salt := sha256.Sum256([]byte(info))
		derived = pbkdf2.Key(secretBuffer.Bytes(), salt[:], misc.PBKDF2Iterations, misc.KeySize, sha256.New)
	default:
		return nil, fmt.Errorf("unsupported kdf: %s", kdf)
	}

	// NewBufferFromBytes wipes derived
	return memguard.NewBufferFromBytes(derived), nil
}

// GenerateDataKey returns a fresh random 32 byte key in locked memory
func GenerateDataKey() *memguard.LockedBuffer {
	return memguard.NewBufferRandom(misc.KeySize)
}

// ParseRSAPublicKey accepts a PKIX "PUBLIC KEY" or PKCS#1 "RSA PUBLIC KEY" block
func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", parsed)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
}

// MaxOAEPPayload is the largest message RSA-OAEP-SHA256 can encrypt under pub
func MaxOAEPPayload(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// IsWeakSecret rejects secrets that are short, constant or low in variety
func IsWeakSecret(secret []byte) bool {
	if len(secret) < misc.MinSecretSize {
		return true
	}

	firstByte := secret[0]
	allSame := true
	for _, b := range secret[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	uniqueBytes := make(map[byte]bool)
	for _, b := range secret {
		uniqueBytes[b] = true
	}

	// at least 8 distinct byte values
	return len(uniqueBytes) < 8
}
