package client

import (
	"net/http"
	"time"

	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/logger"
)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (30s timeout)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAuditLogger records seal, open and classify events on l
func WithAuditLogger(l audit.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.audit = l
		}
	}
}

// WithTimeout bounds every call, on top of any deadline the caller's
// context already carries.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHeader adds a header sent on every request, e.g. an Authorization token
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Add(key, value) }
}
