package courier

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/google/tink/go/kwp/subtle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSAProtectorWrapUnwrapsWithPrivateKey(t *testing.T) {
	protector, err := NewRSAProtector(testPublicKeyPEM(t))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRSAOAEP, protector.Algorithm())
	assert.Equal(t, 190, protector.MaxKeySize())

	dataKey := randomKey(t)
	wrapped, err := protector.Wrap(dataKey)
	require.NoError(t, err)
	assert.Len(t, wrapped, 256)

	recovered, err := rsa.DecryptOAEP(sha256.New(), nil, testPrivateKey(t), wrapped, nil)
	require.NoError(t, err)
	assert.Equal(t, dataKey, recovered)
}

func TestRSAProtectorWrapIsRandomized(t *testing.T) {
	protector, err := NewRSAProtector(testPublicKeyPEM(t))
	require.NoError(t, err)

	dataKey := randomKey(t)
	first, err := protector.Wrap(dataKey)
	require.NoError(t, err)
	second, err := protector.Wrap(dataKey)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first, second), "two wraps of the same key must differ")
}

func TestRSAProtectorRejectsOversizedKey(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&small.PublicKey)
	require.NoError(t, err)
	smallPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	protector, err := NewRSAProtector(smallPEM)
	require.NoError(t, err)
	require.Equal(t, 62, protector.MaxKeySize())

	_, err = protector.Wrap(make([]byte, 62))
	assert.NoError(t, err, "a key at the bound must wrap")

	_, err = protector.Wrap(make([]byte, 63))
	var protectionErr *KeyProtectionError
	assert.ErrorAs(t, err, &protectionErr)

	_, err = WrapKey(make([]byte, 63), smallPEM)
	assert.ErrorAs(t, err, &protectionErr)

	_, err = protector.Wrap(nil)
	assert.ErrorAs(t, err, &protectionErr)
}

func TestNewRSAProtectorMalformedPEM(t *testing.T) {
	_, err := NewRSAProtector([]byte("-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----\n"))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestKWPProtectorWrap(t *testing.T) {
	kek := randomKey(t)
	protector, err := NewKWPProtector(kek)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAESKWP, protector.Algorithm())

	dataKey := randomKey(t)
	wrapped, err := protector.Wrap(dataKey)
	require.NoError(t, err)
	assert.NotEqual(t, dataKey, wrapped)

	// the backend side of the exchange
	kwp, err := subtle.NewKWP(kek)
	require.NoError(t, err)
	recovered, err := kwp.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dataKey, recovered)

	// unlike OAEP, KWP output is a function of kek and key alone
	again, err := protector.Wrap(dataKey)
	require.NoError(t, err)
	assert.Equal(t, wrapped, again)

	_, err = protector.Wrap(make([]byte, 8))
	var protectionErr *KeyProtectionError
	assert.ErrorAs(t, err, &protectionErr)
}

func TestNewKWPProtectorBadKEK(t *testing.T) {
	_, err := NewKWPProtector(make([]byte, 20))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewKeyProtectorByMode(t *testing.T) {
	protector, err := NewKeyProtector(testConfig(t, nil))
	require.NoError(t, err)
	assert.IsType(t, &RSAProtector{}, protector)

	protector, err = NewKeyProtector(testConfig(t, func(o *Options) { o.KeyMode = KeyModeKWP }))
	require.NoError(t, err)
	assert.IsType(t, &KWPProtector{}, protector)

	protector, err = NewKeyProtector(testConfig(t, func(o *Options) { o.KeyMode = KeyModeDirect }))
	require.NoError(t, err)
	assert.Nil(t, protector)

	disabled, err := NewEncryptionConfig(Options{})
	require.NoError(t, err)
	protector, err = NewKeyProtector(disabled)
	require.NoError(t, err)
	assert.Nil(t, protector)
}
