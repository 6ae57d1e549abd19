package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"southwinds.dev/courier"
	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/internal/misc"
	"southwinds.dev/courier/internal/mockserver"
)

const testSecret = "estate-shared-secret-2024!"

type visitor struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

type pass struct {
	ID      string `json:"id"`
	Visitor string `json:"visitor"`
}

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

func privateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return key
}

func encryptionConfig(t *testing.T, keyMode string) *courier.EncryptionConfig {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&privateKey(t).PublicKey)
	require.NoError(t, err)

	cfg, err := courier.NewEncryptionConfig(courier.Options{
		Enabled:      true,
		Secret:       testSecret,
		PublicKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		KeyMode:      keyMode,
	})
	require.NoError(t, err)
	return cfg
}

func plainConfig(t *testing.T) *courier.EncryptionConfig {
	t.Helper()
	cfg, err := courier.NewEncryptionConfig(courier.Options{})
	require.NoError(t, err)
	return cfg
}

// newBackend starts a mock backend with a visitor pass endpoint
func newBackend(t *testing.T, encryptReplies bool) (*mockserver.Server, string) {
	t.Helper()
	backend, err := mockserver.New(mockserver.Options{
		PrivateKey:     privateKey(t),
		Secret:         []byte(testSecret),
		EncryptReplies: encryptReplies,
	})
	require.NoError(t, err)

	backend.Handle(http.MethodPost, "/api/visitors", func(req *mockserver.Request) mockserver.Reply {
		var v visitor
		if err := req.Decode(&v); err != nil || v.Name == "" {
			return mockserver.Fail(http.StatusUnprocessableEntity, courier.RespCodeValidationError, "VALIDATION", "visitor name is required")
		}
		return mockserver.OK(pass{ID: "pass-" + v.Unit, Visitor: v.Name})
	})
	backend.Handle(http.MethodPost, "/api/login", func(req *mockserver.Request) mockserver.Reply {
		return mockserver.Fail(http.StatusUnauthorized, courier.RespCodeInvalidCredentials, "AUTH_FAILED", "Invalid credentials")
	})
	backend.Handle(http.MethodGet, "/api/residents/{id}", func(req *mockserver.Request) mockserver.Reply {
		if req.Vars["id"] != "42" {
			return mockserver.Fail(http.StatusNotFound, courier.RespCodeUserNotFound, "NOT_FOUND", "")
		}
		return mockserver.OK(visitor{Name: "Resident 42", Unit: "C-1"})
	})
	backend.Handle(http.MethodGet, "/api/residents", func(req *mockserver.Request) mockserver.Reply {
		return mockserver.OK(req.Query)
	})
	backend.HandleRaw(http.MethodGet, "/api/gateway", http.StatusBadGateway, "text/html", "<html>bad gateway</html>")

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	return backend, srv.URL + "/api"
}

func TestClientPlainRoundTrip(t *testing.T) {
	backend, url := newBackend(t, false)
	c, err := New(url, plainConfig(t))
	require.NoError(t, err)
	assert.False(t, c.Encrypted())

	got, nerr := Post[pass](context.Background(), c, "/visitors", visitor{Name: "Jane Doe", Unit: "B-12"})
	require.Nil(t, nerr)
	assert.Equal(t, pass{ID: "pass-B-12", Visitor: "Jane Doe"}, got)

	requests := backend.Requests()
	require.Len(t, requests, 1)
	assert.False(t, requests[0].Encrypted)
	assert.JSONEq(t, `{"name":"Jane Doe","unit":"B-12"}`, string(requests[0].Body))
	assert.NotEmpty(t, requests[0].RequestID)
}

func TestClientEncryptedRoundTrip(t *testing.T) {
	for _, mode := range []string{courier.KeyModeRSA, courier.KeyModeKWP, courier.KeyModeDirect} {
		for _, encryptReplies := range []bool{false, true} {
			name := mode + "/plain-replies"
			if encryptReplies {
				name = mode + "/sealed-replies"
			}
			t.Run(name, func(t *testing.T) {
				backend, url := newBackend(t, encryptReplies)
				c, err := New(url, encryptionConfig(t, mode))
				require.NoError(t, err)
				assert.True(t, c.Encrypted())

				got, nerr := Post[pass](context.Background(), c, "/visitors", visitor{Name: "Jane Doe", Unit: "B-12"})
				require.Nil(t, nerr)
				assert.Equal(t, "pass-B-12", got.ID)

				requests := backend.Requests()
				require.Len(t, requests, 1)
				assert.True(t, requests[0].Encrypted)
				assert.JSONEq(t, `{"name":"Jane Doe","unit":"B-12"}`, string(requests[0].Body))
			})
		}
	}
}

func TestClientClassifiedFailure(t *testing.T) {
	_, url := newBackend(t, true)
	c, err := New(url, encryptionConfig(t, courier.KeyModeRSA))
	require.NoError(t, err)

	_, nerr := Post[any](context.Background(), c, "/login", map[string]string{"user": "jane"})
	require.NotNil(t, nerr)
	assert.Equal(t, courier.NormalizedError{
		Status:   http.StatusUnauthorized,
		Message:  "Invalid credentials",
		RespCode: courier.RespCodeInvalidCredentials,
		Code:     "AUTH_FAILED",
	}, *nerr)

	err = c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/visitors", Body: visitor{}}, nil)
	var classified *courier.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "visitor name is required", classified.Message)
}

func TestClientPathVariablesAndMessageFallback(t *testing.T) {
	_, url := newBackend(t, false)
	c, err := New(url, plainConfig(t))
	require.NoError(t, err)

	got, nerr := Get[visitor](context.Background(), c, "/residents/42")
	require.Nil(t, nerr)
	assert.Equal(t, "Resident 42", got.Name)

	_, nerr = Get[visitor](context.Background(), c, "/residents/7")
	require.NotNil(t, nerr)
	assert.Equal(t, "Not Found", nerr.Message, "description text stands in for an empty message")
	assert.Equal(t, http.StatusNotFound, nerr.Status)
}

func TestClientStatusWithoutBody(t *testing.T) {
	_, url := newBackend(t, false)
	c, err := New(url, plainConfig(t))
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/gateway"}, nil)
	var statusErr *courier.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)

	_, nerr := Get[any](context.Background(), c, "/gateway")
	assert.Equal(t, "server error, retry later", nerr.Message)

	// unrouted paths get the router's plain 404
	_, nerr = Get[any](context.Background(), c, "/nowhere")
	assert.Equal(t, "not found", nerr.Message)
}

func TestClientPathWithQuery(t *testing.T) {
	backend, url := newBackend(t, false)
	c, err := New(url, plainConfig(t))
	require.NoError(t, err)

	got, nerr := Get[map[string][]string](context.Background(), c, "/residents?page=2")
	require.Nil(t, nerr)
	assert.Equal(t, map[string][]string{"page": {"2"}}, got)

	var merged map[string][]string
	err = c.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/residents?page=3",
		Query:  map[string][]string{"unit": {"B-12"}},
	}, &merged)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"page": {"3"}, "unit": {"B-12"}}, merged)

	for _, req := range backend.Requests() {
		assert.Equal(t, "/api/residents", req.Path)
	}
}

func TestClientUnrecognizedSuccessReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, plainConfig(t))
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/visitors"}, nil)
	var unrecognized *courier.UnrecognizedReplyError
	require.ErrorAs(t, err, &unrecognized)
	assert.Equal(t, http.StatusOK, unrecognized.Status)
	assert.Contains(t, unrecognized.Body, "captive portal")

	_, nerr := Get[any](context.Background(), c, "/visitors")
	require.NotNil(t, nerr)
	assert.Equal(t, courier.MessageUnexpected, nerr.Message)
	assert.Equal(t, http.StatusOK, nerr.Status)
}

func TestClientAcceptsIntegralStatusNotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"respCode":"00","data":{"name":"Jane"},"description":{"status":200.0}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, plainConfig(t))
	require.NoError(t, err)

	got, nerr := Get[visitor](context.Background(), c, "/visitors/1")
	require.Nil(t, nerr)
	assert.Equal(t, "Jane", got.Name)
}

func TestClientNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, plainConfig(t))
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/anything"}, nil)
	var networkErr *courier.NetworkError
	require.ErrorAs(t, err, &networkErr)

	_, nerr := Get[any](context.Background(), c, "/anything")
	assert.Equal(t, courier.MessageNetworkUnreachable, nerr.Message)
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, plainConfig(t), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, nerr := Get[any](context.Background(), c, "/slow")
	require.NotNil(t, nerr)
	assert.Equal(t, courier.MessageNetworkUnreachable, nerr.Message)
}

func TestClientRejectsTamperedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderEnvelope, misc.EnvelopeVersion)
		_, _ = w.Write([]byte(`{"iv":"AAAAAAAAAAAAAAAA","ciphertext":"AAAA","authTag":"AAAAAAAAAAAAAAAAAAAAAA=="}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, encryptionConfig(t, courier.KeyModeRSA))
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	var integrityErr *courier.IntegrityError
	assert.ErrorAs(t, err, &integrityErr)

	plain, err := New(srv.URL, plainConfig(t))
	require.NoError(t, err)
	err = plain.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	var cfgErr *courier.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestClientSendsHeadersAndAudits(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		_, _ = w.Write([]byte(`{"respCode":"00","data":null,"description":{"status":200}}`))
	}))
	t.Cleanup(srv.Close)

	auditLogger, err := audit.NewLogger(&audit.Config{
		Enabled:  true,
		ClientID: "gatehouse-app",
		Type:     audit.FileAuditType,
		Options:  map[string]interface{}{"file_path": filepath.Join(t.TempDir(), "audit.log")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLogger.Close() })

	c, err := New(srv.URL, encryptionConfig(t, courier.KeyModeRSA),
		WithHeader("Authorization", "Bearer token"),
		WithAuditLogger(auditLogger))
	require.NoError(t, err)

	var out *visitor
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/visitors", Body: visitor{Name: "x"}}, &out))
	assert.Nil(t, out)

	assert.Equal(t, "Bearer token", seen.Get("Authorization"))
	assert.Equal(t, misc.EnvelopeVersion, seen.Get(HeaderEnvelope))
	assert.Len(t, seen.Get(HeaderRequestID), 36)

	result, err := auditLogger.Query(audit.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)

	result, err = auditLogger.Query(audit.QueryOptions{Action: audit.ActionResponseClassify})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, seen.Get(HeaderRequestID), result.Events[0].RequestID)
	assert.True(t, result.Events[0].Success)

	result, err = auditLogger.Query(audit.QueryOptions{Action: audit.ActionEnvelopeSeal})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, courier.AlgorithmRSAOAEP, result.Events[0].KeyAlg)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://gate.local", plainConfig(t))
	assert.Error(t, err)
	_, err = New("://", plainConfig(t))
	assert.Error(t, err)
}
