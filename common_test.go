package courier

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
)

const testSecret = "estate-shared-secret-2024!"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// testPrivateKey returns a 2048-bit key generated once per test binary
func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if testKeyErr != nil {
		t.Fatalf("Failed to generate RSA key: %v", testKeyErr)
	}
	return testKey
}

func testPublicKeyPEM(t *testing.T) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&testPrivateKey(t).PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Enabled:      true,
		Secret:       testSecret,
		PublicKeyPEM: string(testPublicKeyPEM(t)),
	}
}

func testConfig(t *testing.T, mutate func(*Options)) *EncryptionConfig {
	t.Helper()
	opts := testOptions(t)
	if mutate != nil {
		mutate(&opts)
	}
	cfg, err := NewEncryptionConfig(opts)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	return cfg
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}
