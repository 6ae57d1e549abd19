package courier

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/viper"
	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/mem"
	"southwinds.dev/courier/internal/misc"
)

// MinRSABits is the smallest server public key accepted at load time
const MinRSABits = 2048

// EncryptionConfig is the process-wide, read-once encryption configuration.
//
// It is built once at start-up by NewEncryptionConfig and never mutated
// afterwards, so it can be shared between goroutines without locking.
// Re-reading configuration requires a restart. The secret is held in a
// memguard enclave; the public key is kept both as PEM and parsed.
//
// When encryption is disabled the accessors return zero values and the
// envelope layer is bypassed entirely.
type EncryptionConfig struct {
	enabled       bool
	secret        *memguard.Enclave
	publicKeyPEM  []byte
	publicKey     *rsa.PublicKey
	keyMode       string
	cipher        string
	kdf           string
	memProtection mem.ProtectionLevel
}

// NewEncryptionConfig resolves opts into an EncryptionConfig.
//
// It fails fast with a *ConfigurationError when encryption is enabled and
// the secret or public key is missing or malformed. A misconfigured crypto
// layer never falls back to plaintext.
func NewEncryptionConfig(opts Options) (*EncryptionConfig, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if !opts.Enabled {
		return &EncryptionConfig{}, nil
	}

	secret := opts.Secret
	if secret == "" && opts.EnvSecretVar != "" {
		secret = os.Getenv(opts.EnvSecretVar)
	}
	if secret == "" {
		return nil, &ConfigurationError{Field: "secret", Reason: "required when encryption is enabled"}
	}
	if crypto.IsWeakSecret([]byte(secret)) {
		return nil, &ConfigurationError{
			Field:  "secret",
			Reason: fmt.Sprintf("too weak: needs at least %d bytes with varied content", misc.MinSecretSize),
		}
	}

	var pemData []byte
	if strings.TrimSpace(opts.PublicKeyPEM) != "" {
		pemData = []byte(opts.PublicKeyPEM)
	} else if opts.PublicKeyFile != "" {
		data, err := os.ReadFile(opts.PublicKeyFile)
		if err != nil {
			return nil, &ConfigurationError{Field: "public_key_file", Reason: "cannot be read", Err: err}
		}
		pemData = data
	}
	if len(pemData) == 0 {
		return nil, &ConfigurationError{Field: "public_key_pem", Reason: "required when encryption is enabled"}
	}

	publicKey, err := crypto.ParseRSAPublicKey(pemData)
	if err != nil {
		return nil, &ConfigurationError{Field: "public_key_pem", Reason: "malformed", Err: err}
	}
	if publicKey.N.BitLen() < MinRSABits {
		return nil, &ConfigurationError{
			Field:  "public_key_pem",
			Reason: fmt.Sprintf("RSA key is %d bits, minimum is %d", publicKey.N.BitLen(), MinRSABits),
		}
	}

	cfg := &EncryptionConfig{
		enabled:      true,
		secret:       memguard.NewEnclave([]byte(secret)),
		publicKeyPEM: cloneBytes(pemData),
		publicKey:    publicKey,
		keyMode:      opts.keyMode(),
		cipher:       opts.cipher(),
		kdf:          opts.kdf(),
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			return nil, &ConfigurationError{Field: "enable_memory_lock", Reason: "memory lock failed", Err: err}
		}
		cfg.memProtection = level
	}

	return cfg, nil
}

// IsEncryptionEnabled reports whether outbound bodies are sealed
func (c *EncryptionConfig) IsEncryptionEnabled() bool {
	return c != nil && c.enabled
}

// Secret returns a copy of the shared secret. The caller should wipe it
// with memguard.WipeBytes when done. It returns nil when encryption is off.
func (c *EncryptionConfig) Secret() ([]byte, error) {
	if !c.IsEncryptionEnabled() {
		return nil, nil
	}
	buf, err := c.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return cloneBytes(buf.Bytes()), nil
}

// PublicKeyMaterial returns a copy of the server public key PEM
func (c *EncryptionConfig) PublicKeyMaterial() []byte {
	if !c.IsEncryptionEnabled() {
		return nil
	}
	return cloneBytes(c.publicKeyPEM)
}

// PublicKey returns the parsed server public key
func (c *EncryptionConfig) PublicKey() *rsa.PublicKey {
	if !c.IsEncryptionEnabled() {
		return nil
	}
	return c.publicKey
}

func (c *EncryptionConfig) KeyMode() string { return c.keyMode }

func (c *EncryptionConfig) Cipher() string { return c.cipher }

func (c *EncryptionConfig) KDF() string { return c.kdf }

// MemoryProtection reports what mem.Lock achieved, ProtectionNone when it
// was not requested.
func (c *EncryptionConfig) MemoryProtection() mem.ProtectionLevel { return c.memProtection }

// Close releases the memory lock taken at load. The config stays usable.
func (c *EncryptionConfig) Close() error {
	if c == nil || c.memProtection == mem.ProtectionNone {
		return nil
	}
	c.memProtection = mem.ProtectionNone
	return mem.Unlock()
}

// SetDefaults registers every encryption key with v so that environment
// variables (COURIER_ENCRYPTION_*) resolve even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.secret", "")
	v.SetDefault("encryption.env_secret_var", "")
	v.SetDefault("encryption.public_key_pem", "")
	v.SetDefault("encryption.public_key_file", "")
	v.SetDefault("encryption.key_mode", KeyModeRSA)
	v.SetDefault("encryption.cipher", crypto.CipherChaCha20Poly1305)
	v.SetDefault("encryption.kdf", crypto.KDFHKDF)
	v.SetDefault("encryption.enable_memory_lock", false)
}

// OptionsFromViper reads the "encryption" section of v. Keys are read one by
// one so that environment overrides apply to each leaf.
func OptionsFromViper(v *viper.Viper) (Options, error) {
	opts := Options{
		Enabled:          v.GetBool("encryption.enabled"),
		Secret:           v.GetString("encryption.secret"),
		EnvSecretVar:     v.GetString("encryption.env_secret_var"),
		PublicKeyPEM:     v.GetString("encryption.public_key_pem"),
		PublicKeyFile:    v.GetString("encryption.public_key_file"),
		KeyMode:          strings.ToLower(v.GetString("encryption.key_mode")),
		Cipher:           strings.ToLower(v.GetString("encryption.cipher")),
		KDF:              strings.ToLower(v.GetString("encryption.kdf")),
		EnableMemoryLock: v.GetBool("encryption.enable_memory_lock"),
	}
	return opts, opts.Validate()
}

// LoadEncryptionConfig is the one-shot start-up path: it reads options from
// v and builds the immutable config.
func LoadEncryptionConfig(v *viper.Viper) (*EncryptionConfig, error) {
	opts, err := OptionsFromViper(v)
	if err != nil {
		return nil, err
	}
	return NewEncryptionConfig(opts)
}

// NewViper returns a viper instance wired for COURIER_* environment
// variables with every encryption default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
