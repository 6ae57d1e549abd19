package courier

import (
	"fmt"

	"southwinds.dev/courier/internal/crypto"
)

const (
	// KeyModeRSA seals every body under a fresh data key wrapped with the
	// server's RSA public key (RSA-OAEP-SHA256).
	KeyModeRSA = "rsa"
	// KeyModeKWP seals every body under a fresh data key wrapped with AES-KWP
	// under a key derived from the shared secret.
	KeyModeKWP = "kwp"
	// KeyModeDirect seals bodies directly under the secret-derived payload key.
	KeyModeDirect = "direct"
)

// Options holds the raw encryption settings as they arrive from config files,
// environment variables and flags. It is turned into an immutable
// EncryptionConfig by NewEncryptionConfig.
//
// Secret and PublicKeyPEM are excluded from JSON/YAML output so that
// `courier config view` and audit metadata never echo key material.
type Options struct {
	// Enabled switches the envelope layer on. When false every other field is
	// ignored and bodies travel as plain JSON.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Secret is the shared symmetric secret agreed with the backend
	Secret string `json:"-" yaml:"-" mapstructure:"secret"`

	// EnvSecretVar names an environment variable to read the secret from
	// when Secret is empty.
	EnvSecretVar string `json:"env_secret_var,omitempty" yaml:"env_secret_var,omitempty" mapstructure:"env_secret_var"`

	// PublicKeyPEM is the server's RSA public key, PKIX or PKCS#1 PEM
	PublicKeyPEM string `json:"-" yaml:"-" mapstructure:"public_key_pem"`

	// PublicKeyFile is read when PublicKeyPEM is empty
	PublicKeyFile string `json:"public_key_file,omitempty" yaml:"public_key_file,omitempty" mapstructure:"public_key_file"`

	// KeyMode is one of rsa (default), kwp or direct
	KeyMode string `json:"key_mode,omitempty" yaml:"key_mode,omitempty" mapstructure:"key_mode"`

	// Cipher is chacha20-poly1305 (default) or aes-256-gcm
	Cipher string `json:"cipher,omitempty" yaml:"cipher,omitempty" mapstructure:"cipher"`

	// KDF derives keys from the secret: hkdf-sha256 (default), argon2id or pbkdf2-sha256
	KDF string `json:"kdf,omitempty" yaml:"kdf,omitempty" mapstructure:"kdf"`

	// EnableMemoryLock attempts to keep the process resident so secret
	// material is never paged to disk.
	EnableMemoryLock bool `json:"enable_memory_lock" yaml:"enable_memory_lock" mapstructure:"enable_memory_lock"`
}

// Validate checks the option values that can be judged without resolving
// indirections (env vars, files).
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}

	switch o.KeyMode {
	case "", KeyModeRSA, KeyModeKWP, KeyModeDirect:
	default:
		return &ConfigurationError{Field: "key_mode", Reason: fmt.Sprintf("unsupported value %q", o.KeyMode)}
	}

	switch o.Cipher {
	case "", crypto.CipherChaCha20Poly1305, crypto.CipherAES256GCM:
	default:
		return &ConfigurationError{Field: "cipher", Reason: fmt.Sprintf("unsupported value %q", o.Cipher)}
	}

	switch o.KDF {
	case "", crypto.KDFHKDF, crypto.KDFArgon2id, crypto.KDFPBKDF2:
	default:
		return &ConfigurationError{Field: "kdf", Reason: fmt.Sprintf("unsupported value %q", o.KDF)}
	}

	if o.EnvSecretVar != "" && !isValidEnvVarName(o.EnvSecretVar) {
		return &ConfigurationError{Field: "env_secret_var", Reason: fmt.Sprintf("invalid environment variable name %q", o.EnvSecretVar)}
	}

	return nil
}

func (o Options) keyMode() string { return firstNonEmpty(o.KeyMode, KeyModeRSA) }

func (o Options) cipher() string { return firstNonEmpty(o.Cipher, crypto.CipherChaCha20Poly1305) }

func (o Options) kdf() string { return firstNonEmpty(o.KDF, crypto.KDFHKDF) }
