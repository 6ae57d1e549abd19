package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"southwinds.dev/courier"
	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/internal/misc"
	"southwinds.dev/courier/logger"
)

const (
	// HeaderEnvelope marks a body, in either direction, as an envelope
	HeaderEnvelope = "X-Courier-Envelope"
	// HeaderRequestID carries the per-call correlation id
	HeaderRequestID = "X-Request-ID"

	maxErrorBody = 512
)

// maxReplySize bounds what is read from the wire. Base64 inflates an
// envelope by a third, so twice the payload limit leaves headroom.
const maxReplySize = 2 * misc.MaxPayloadSize

// Request describes one backend call
type Request struct {
	Method string
	// Path is joined onto the base url; a "?query" suffix is merged with Query.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is marshalled to JSON. A nil Body sends no content.
	Body interface{}
}

// Client sends requests to the backend, sealing bodies when encryption is
// enabled and classifying every reply. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	sealer  *courier.Sealer
	log     logger.Logger
	audit   audit.Logger
	timeout time.Duration
	headers http.Header
}

// New builds a client for baseURL. cfg is read once: its sealer is built
// here and reused for every call.
func New(baseURL string, cfg *courier.EncryptionConfig, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.Discard(),
		audit:   audit.NewNoOpLogger(),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sealer, err = courier.NewSealer(cfg, c.audit)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Encrypted reports whether request bodies are sealed
func (c *Client) Encrypted() bool { return c.sealer.Enabled() }

// Do performs req and decodes the classified data into out, which may be
// nil. Every error it returns can be passed to courier.Normalize:
//
//	*courier.NetworkError            no response was received
//	*courier.StatusError             non-2xx reply without an ApiResponse body
//	*courier.UnrecognizedReplyError  2xx reply without an ApiResponse body
//	*courier.ClassifiedError         the backend reported a failure
//
// Envelope failures (integrity, malformed, key protection) are terminal and
// never retried.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return err
	}
	aad := courier.RequestAAD(method, target.Path)
	requestID := uuid.NewString()
	op := method + " " + target.Path

	entry := c.log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       target.Path,
		"encrypted":  c.sealer.Enabled(),
	})

	body, sealed, err := c.encodeBody(req.Body, aad)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return errors.Wrapf(err, "failed to build request %s", op)
	}
	for k, values := range c.headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if sealed {
		httpReq.Header.Set(HeaderEnvelope, misc.EnvelopeVersion)
	}

	entry.Debug("sending request")
	started := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		entry.WithError(err).Warn("request failed without response")
		return &courier.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return &courier.NetworkError{Op: op, Err: errors.Wrap(err, "failed to read response body")}
	}

	entry = entry.WithFields(log.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	if resp.Header.Get(HeaderEnvelope) != "" {
		payload, err = c.openReply(payload, aad)
		if err != nil {
			entry.WithError(err).Error("reply envelope rejected")
			return errors.WithMessagef(err, "reply to %s", op)
		}
	}

	data, err := c.classify(resp.StatusCode, payload, requestID)
	if err != nil {
		entry.WithError(err).Debug("request classified as failure")
		return err
	}
	entry.Debug("request succeeded")

	if out == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err = json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode data of %s", op)
	}
	return nil
}

// resolve joins path onto the base url. A query in path is merged with query.
func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	path, rawQuery, hasQuery := strings.Cut(path, "?")
	target := c.baseURL.JoinPath(path)

	values := url.Values{}
	if hasQuery {
		parsed, err := url.ParseQuery(rawQuery)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid query in path %q", path)
		}
		values = parsed
	}
	for k, vs := range query {
		for _, v := range vs {
			values.Add(k, v)
		}
	}
	if len(values) > 0 {
		target.RawQuery = values.Encode()
	}
	return target, nil
}

func (c *Client) encodeBody(body interface{}, aad []byte) (io.Reader, bool, error) {
	if body == nil {
		return nil, false, nil
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to marshal request body")
	}
	if !c.sealer.Enabled() {
		return bytes.NewReader(plaintext), false, nil
	}

	env, err := c.sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, false, err
	}
	wire, err := env.Marshal()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to marshal envelope")
	}
	return bytes.NewReader(wire), true, nil
}

func (c *Client) openReply(payload, aad []byte) ([]byte, error) {
	if !c.sealer.Enabled() {
		return nil, &courier.ConfigurationError{Field: "enabled", Reason: "received an encrypted reply with encryption disabled"}
	}
	env, err := courier.ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	return c.sealer.Open(env, aad)
}

func (c *Client) classify(status int, payload []byte, requestID string) (json.RawMessage, error) {
	raw, err := courier.Parse[json.RawMessage](payload)
	if err != nil || !recognized(raw) {
		if status < 200 || status > 299 {
			return nil, &courier.StatusError{Status: status, Body: truncate(payload)}
		}
		if err == nil {
			err = errors.New("reply carries neither respCode nor status")
		}
		return nil, &courier.UnrecognizedReplyError{Status: status, Body: truncate(payload), Err: err}
	}

	// a non-2xx status never reads as 200, so borrowing it cannot flip the verdict
	if raw.Description.Status == 0 && (status < 200 || status > 299) {
		raw.Description.Status = courier.StatusCode(status)
	}

	data, err := courier.Classify(raw)
	c.audit.Log(audit.ActionResponseClassify, err == nil, map[string]interface{}{
		"request_id":  requestID,
		"resp_code":   raw.RespCode,
		"http_status": status,
		"status":      int(raw.Description.Status),
	})
	return data, err
}

func recognized[T any](raw courier.ApiResponse[T]) bool {
	return raw.RespCode != "" || raw.Description.Status != 0
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
