// Package mockserver is an in-process stand-in for the backend. It speaks the
// envelope protocol from the server side: it unwraps data keys with the RSA
// private key (or the secret-derived KWP key), decrypts request bodies and
// answers with ApiResponse bodies, optionally sealed under the shared
// payload key.
package mockserver

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/tink/go/kwp/subtle"
	"github.com/gorilla/mux"
	"southwinds.dev/courier"
	"southwinds.dev/courier/internal/crypto"
	"southwinds.dev/courier/internal/misc"
)

const (
	headerEnvelope  = "X-Courier-Envelope"
	headerRequestID = "X-Request-ID"
)

// Options configures a Server
type Options struct {
	// PrivateKey unwraps RSA-OAEP data keys; nil rejects rsa-mode requests
	PrivateKey *rsa.PrivateKey
	// Secret is the shared secret both sides derive payload and wrap keys from
	Secret []byte
	Cipher string
	KDF    string
	// EncryptReplies seals every reply under the payload key
	EncryptReplies bool
}

// Request is what a Handler sees: the body already decrypted
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Vars      map[string]string
	Header    http.Header
	Body      []byte
	Encrypted bool
	RequestID string
}

// Decode unmarshals the decrypted body into v
func (r *Request) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Reply is a handler result: an HTTP status and the ApiResponse body
type Reply struct {
	Status int
	Body   courier.ApiResponse[any]
}

type Handler func(req *Request) Reply

// Server is an http.Handler; wrap it with httptest.NewServer
type Server struct {
	router         *mux.Router
	privateKey     *rsa.PrivateKey
	payloadKey     []byte
	wrapKey        []byte
	codec          *courier.Codec
	encryptReplies bool

	mu       sync.Mutex
	requests []Request
}

func New(opts Options) (*Server, error) {
	codec, err := courier.NewCodec(opts.Cipher)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:         mux.NewRouter(),
		privateKey:     opts.PrivateKey,
		codec:          codec,
		encryptReplies: opts.EncryptReplies,
	}

	if len(opts.Secret) > 0 {
		if s.payloadKey, err = deriveKey(opts.Secret, opts.KDF, misc.HKDFInfoPayload); err != nil {
			return nil, err
		}
		if s.wrapKey, err = deriveKey(opts.Secret, opts.KDF, misc.HKDFInfoWrap); err != nil {
			return nil, err
		}
	}

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return s, nil
}

func deriveKey(secret []byte, kdf, info string) ([]byte, error) {
	enclave := memguard.NewEnclave(append([]byte(nil), secret...))
	buf, err := crypto.DeriveKey(enclave, kdf, info)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return append([]byte(nil), buf.Bytes()...), nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handle registers h for method and a gorilla/mux path template
func (s *Server) Handle(method, path string, h Handler) {
	s.router.HandleFunc(path, s.wrap(h)).Methods(method)
}

// HandleRaw answers method and path with a fixed body, bypassing the
// ApiResponse shape; for gateways that reply with HTML or empty bodies.
func (s *Server) HandleRaw(method, path string, status int, contentType, body string) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}).Methods(method)
}

// Requests returns every request that reached a Handle route, decrypted
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) wrap(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aad := courier.RequestAAD(r.Method, r.URL.Path)

		req, reply := s.readRequest(r, aad)
		if reply == nil {
			s.mu.Lock()
			s.requests = append(s.requests, *req)
			s.mu.Unlock()

			res := h(req)
			reply = &res
		}
		s.writeReply(w, aad, *reply)
	}
}

func (s *Server) readRequest(r *http.Request, aad []byte) (*Request, *Reply) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 2*misc.MaxPayloadSize))
	if err != nil {
		return nil, errorReply(http.StatusBadRequest, courier.RespCodeValidationError, "BAD_BODY", "unreadable body")
	}

	req := &Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.Query(),
		Vars:      mux.Vars(r),
		Header:    r.Header.Clone(),
		Body:      body,
		RequestID: r.Header.Get(headerRequestID),
	}
	if r.Header.Get(headerEnvelope) == "" {
		return req, nil
	}

	plaintext, err := s.openEnvelope(body, aad)
	if err != nil {
		return nil, errorReply(http.StatusBadRequest, courier.RespCodeValidationError, "BAD_ENVELOPE", "envelope rejected")
	}
	req.Body = plaintext
	req.Encrypted = true
	return req, nil
}

func (s *Server) openEnvelope(body, aad []byte) ([]byte, error) {
	env, err := courier.ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	key, err := s.unwrap(env.WrappedKey)
	if err != nil {
		return nil, err
	}
	env.WrappedKey = nil
	return s.codec.DecodeWithAAD(env, key, aad)
}

// unwrap tells the key modes apart by wrapped-key length: an OAEP block is
// always the modulus size, a KWP block is 40 bytes for a 32 byte key.
func (s *Server) unwrap(wrapped []byte) ([]byte, error) {
	switch {
	case len(wrapped) == 0:
		return s.payloadKey, nil
	case s.privateKey != nil && len(wrapped) == s.privateKey.Size():
		return rsa.DecryptOAEP(sha256.New(), nil, s.privateKey, wrapped, nil)
	default:
		kwp, err := subtle.NewKWP(s.wrapKey)
		if err != nil {
			return nil, err
		}
		return kwp.Unwrap(wrapped)
	}
}

func (s *Server) writeReply(w http.ResponseWriter, aad []byte, reply Reply) {
	body, err := json.Marshal(reply.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if s.encryptReplies {
		env, err := s.codec.EncodeWithAAD(body, s.payloadKey, aad)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if body, err = env.Marshal(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(headerEnvelope, misc.EnvelopeVersion)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_, _ = w.Write(body)
}

// OK builds a success reply carrying data
func OK(data any) Reply {
	return Reply{
		Status: http.StatusOK,
		Body: courier.ApiResponse[any]{
			RespCode:    courier.RespCodeSuccess,
			Message:     "success",
			Data:        data,
			Description: courier.Description{Status: http.StatusOK, Description: "OK", Code: "SUCCESS", Range: "2xx"},
		},
	}
}

// Fail builds a failure reply with the given status and backend codes
func Fail(status int, respCode, code, message string) Reply {
	return *errorReply(status, respCode, code, message)
}

func errorReply(status int, respCode, code, message string) *Reply {
	return &Reply{
		Status: status,
		Body: courier.ApiResponse[any]{
			RespCode:    respCode,
			Message:     message,
			Description: courier.Description{Status: courier.StatusCode(status), Description: http.StatusText(status), Code: code},
		},
	}
}
