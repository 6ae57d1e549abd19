package courier

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/mem"
)

func TestEncryptionConfigDisabledBypasses(t *testing.T) {
	cfg, err := NewEncryptionConfig(Options{Enabled: false, KeyMode: "bogus"})
	require.NoError(t, err, "disabled config must not validate crypto fields")

	assert.False(t, cfg.IsEncryptionEnabled())
	secret, err := cfg.Secret()
	require.NoError(t, err)
	assert.Nil(t, secret)
	assert.Nil(t, cfg.PublicKeyMaterial())
	assert.Nil(t, cfg.PublicKey())

	var nilCfg *EncryptionConfig
	assert.False(t, nilCfg.IsEncryptionEnabled())
}

func TestEncryptionConfigEnabled(t *testing.T) {
	cfg := testConfig(t, nil)

	assert.True(t, cfg.IsEncryptionEnabled())
	secret, err := cfg.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte(testSecret), secret)
	assert.Equal(t, testPublicKeyPEM(t), cfg.PublicKeyMaterial())
	assert.Equal(t, 0, cfg.PublicKey().N.Cmp(testPrivateKey(t).N))
	assert.Equal(t, KeyModeRSA, cfg.KeyMode())
	assert.Equal(t, crypto.CipherChaCha20Poly1305, cfg.Cipher())
	assert.Equal(t, crypto.KDFHKDF, cfg.KDF())
	assert.Equal(t, mem.ProtectionNone, cfg.MemoryProtection())

	// accessors hand out copies
	material := cfg.PublicKeyMaterial()
	material[0] = 'X'
	assert.Equal(t, testPublicKeyPEM(t), cfg.PublicKeyMaterial())
}

func TestEncryptionConfigFailsFast(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	smallDER, err := x509.MarshalPKIXPublicKey(&small.PublicKey)
	require.NoError(t, err)
	smallPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: smallDER}))

	cases := map[string]struct {
		mutate func(*Options)
		field  string
	}{
		"MissingSecret":    {func(o *Options) { o.Secret = "" }, "secret"},
		"WeakSecret":       {func(o *Options) { o.Secret = "aaaaaaaaaaaaaaaaaaaa" }, "secret"},
		"MissingPublicKey": {func(o *Options) { o.PublicKeyPEM = "" }, "public_key_pem"},
		"GarbagePublicKey": {func(o *Options) { o.PublicKeyPEM = "not a key" }, "public_key_pem"},
		"SmallPublicKey":   {func(o *Options) { o.PublicKeyPEM = smallPEM }, "public_key_pem"},
		"MissingKeyFile":   {func(o *Options) { o.PublicKeyPEM = ""; o.PublicKeyFile = "/nonexistent/server.pem" }, "public_key_file"},
		"BadKeyMode":       {func(o *Options) { o.KeyMode = "xor" }, "key_mode"},
		"BadCipher":        {func(o *Options) { o.Cipher = "rc4" }, "cipher"},
		"BadKDF":           {func(o *Options) { o.KDF = "md5" }, "kdf"},
		"BadEnvVar":        {func(o *Options) { o.Secret = ""; o.EnvSecretVar = "1-BAD" }, "env_secret_var"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t)
			tc.mutate(&opts)

			cfg, err := NewEncryptionConfig(opts)
			require.Nil(t, cfg)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestEncryptionConfigIndirections(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "server.pem")
	require.NoError(t, os.WriteFile(keyFile, testPublicKeyPEM(t), 0600))
	t.Setenv("ESTATE_SHARED_SECRET", testSecret)

	cfg, err := NewEncryptionConfig(Options{
		Enabled:       true,
		EnvSecretVar:  "ESTATE_SHARED_SECRET",
		PublicKeyFile: keyFile,
	})
	require.NoError(t, err)

	secret, err := cfg.Secret()
	require.NoError(t, err)
	assert.Equal(t, testSecret, string(secret))
	assert.Equal(t, testPublicKeyPEM(t), cfg.PublicKeyMaterial())
}

func TestEncryptionConfigCloseWithoutLock(t *testing.T) {
	cfg := testConfig(t, nil)
	require.NoError(t, cfg.Close())
	require.NoError(t, cfg.Close())
	assert.True(t, cfg.IsEncryptionEnabled(), "close only releases the memory lock")

	var nilCfg *EncryptionConfig
	assert.NoError(t, nilCfg.Close())
}

func TestEncryptionConfigKeepsPEMBytes(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "server.pem")
	require.NoError(t, os.WriteFile(keyFile, testPublicKeyPEM(t), 0600))

	fromFile := testConfig(t, func(o *Options) { o.PublicKeyPEM = ""; o.PublicKeyFile = keyFile })
	inline := testConfig(t, nil)
	assert.Equal(t, fromFile.PublicKeyMaterial(), inline.PublicKeyMaterial())

	blank := testConfig(t, func(o *Options) { o.PublicKeyPEM = "  \n"; o.PublicKeyFile = keyFile })
	assert.Equal(t, testPublicKeyPEM(t), blank.PublicKeyMaterial())
}

func TestLoadEncryptionConfigFromEnvironment(t *testing.T) {
	t.Setenv("COURIER_ENCRYPTION_ENABLED", "true")
	t.Setenv("COURIER_ENCRYPTION_SECRET", testSecret)
	t.Setenv("COURIER_ENCRYPTION_PUBLIC_KEY_PEM", string(testPublicKeyPEM(t)))
	t.Setenv("COURIER_ENCRYPTION_KEY_MODE", "KWP")
	t.Setenv("COURIER_ENCRYPTION_CIPHER", crypto.CipherAES256GCM)

	cfg, err := LoadEncryptionConfig(NewViper())
	require.NoError(t, err)
	assert.True(t, cfg.IsEncryptionEnabled())
	assert.Equal(t, KeyModeKWP, cfg.KeyMode())
	assert.Equal(t, crypto.CipherAES256GCM, cfg.Cipher())
}

func TestLoadEncryptionConfigDefaultsToDisabled(t *testing.T) {
	cfg, err := LoadEncryptionConfig(NewViper())
	require.NoError(t, err)
	assert.False(t, cfg.IsEncryptionEnabled())
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{}.Validate())
	assert.NoError(t, Options{Enabled: true, KeyMode: KeyModeDirect, Cipher: crypto.CipherAES256GCM, KDF: crypto.KDFArgon2id}.Validate())
	assert.Error(t, Options{Enabled: true, KeyMode: "none"}.Validate())
}
