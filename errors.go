package courier

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is returned when a symmetric key is not exactly 32 bytes
var ErrInvalidKey = errors.New("symmetric key must be 32 bytes")

// ConfigurationError reports missing or invalid crypto configuration. It is
// fatal: no encrypted call may proceed on a configuration that produced one.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid encryption configuration: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MalformedEnvelopeError reports wire data that does not have the envelope shape
type MalformedEnvelopeError struct {
	Reason string
}

func (e *MalformedEnvelopeError) Error() string {
	return "malformed envelope: " + e.Reason
}

// IntegrityError reports an authentication tag mismatch. It never carries
// any part of the attempted plaintext.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return "envelope integrity check failed"
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// KeyProtectionError reports a key that cannot be wrapped
type KeyProtectionError struct {
	Reason string
	Err    error
}

func (e *KeyProtectionError) Error() string {
	msg := "key protection failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KeyProtectionError) Unwrap() error { return e.Err }

// ClassifiedError is a failure reported by the backend itself
type ClassifiedError struct {
	Message  string
	RespCode string
	Code     string
	Status   int
}

func (e *ClassifiedError) Error() string {
	if e.RespCode != "" {
		return fmt.Sprintf("%s (respCode %s)", e.Message, e.RespCode)
	}
	return e.Message
}

// NetworkError reports a transport failure where no response was received
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": no response received"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError carries an HTTP status for a reply that could not be classified
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.Status)
}

// StatusCode exposes the status to the normalizer
func (e *StatusError) StatusCode() int { return e.Status }

// UnrecognizedReplyError reports a 2xx reply whose body is not an ApiResponse,
// e.g. a captive portal or proxy page. Err keeps the decoding detail.
type UnrecognizedReplyError struct {
	Status int
	Body   string
	Err    error
}

func (e *UnrecognizedReplyError) Error() string {
	msg := fmt.Sprintf("unrecognized reply with status %d", e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnrecognizedReplyError) Unwrap() error { return e.Err }
