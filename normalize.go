package courier

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

const (
	MessageNetworkUnreachable = "network unreachable, check your connection"
	MessageUnexpected         = "unexpected error"
	MessageGeneric            = "something went wrong"
)

var statusMessages = map[int]string{
	400: "invalid request",
	401: "session expired, please re-authenticate",
	403: "forbidden",
	404: "not found",
	422: "validation error",
	429: "rate limited, retry later",
	500: "server error, retry later",
	502: "server error, retry later",
	503: "server error, retry later",
}

// NormalizedError is the single user-facing error shape. The UI shows
// Message directly; RespCode and Code are for diagnostics only.
type NormalizedError struct {
	Status   int    `json:"status"`
	Message  string `json:"message"`
	RespCode string `json:"respCode,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (e NormalizedError) Error() string { return e.Message }

// StatusCoder is implemented by errors that carry an HTTP-like status
type StatusCoder interface {
	StatusCode() int
}

// StatusMessage returns the fixed message for an HTTP-like status
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return MessageUnexpected
}

// Normalize maps any failure to a NormalizedError. First match wins:
//
//  1. a message from a prior classification step, used verbatim
//  2. a network failure with no response, the fixed unreachable message
//  3. an HTTP-like status, mapped through the status table; a 2xx reply
//     that is not an ApiResponse gets MessageUnexpected
//  4. the error's own message, or MessageGeneric
//
// Domain messages beat protocol messages beat generic fallbacks.
func Normalize(err error) NormalizedError {
	if err == nil {
		return NormalizedError{Message: MessageGeneric}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return NormalizedError{
			Status:   classified.Status,
			Message:  classified.Message,
			RespCode: classified.RespCode,
			Code:     classified.Code,
		}
	}

	if isNetworkFailure(err) {
		return NormalizedError{Message: MessageNetworkUnreachable}
	}

	var coder StatusCoder
	if errors.As(err, &coder) && coder.StatusCode() > 0 {
		return NormalizedError{Status: coder.StatusCode(), Message: StatusMessage(coder.StatusCode())}
	}

	var unrecognized *UnrecognizedReplyError
	if errors.As(err, &unrecognized) {
		return NormalizedError{Status: unrecognized.Status, Message: MessageUnexpected}
	}

	var already NormalizedError
	if errors.As(err, &already) {
		return already
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return NormalizedError{Message: msg}
	}
	return NormalizedError{Message: MessageGeneric}
}

func isNetworkFailure(err error) bool {
	var networkErr *NetworkError
	if errors.As(err, &networkErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
