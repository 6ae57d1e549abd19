package courier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Backend response codes
const (
	RespCodeSuccess            = "00"
	RespCodeInvalidCredentials = "01"
	RespCodeUserNotFound       = "02"
	RespCodeInactiveUser       = "03"
	RespCodeValidationError    = "04"
	RespCodeServerError        = "99"
)

// DefaultFailureMessage is used when a failed reply carries no message
const DefaultFailureMessage = "request failed"

var responseCodes = map[string]string{
	RespCodeSuccess:            "success",
	RespCodeInvalidCredentials: "invalid credentials",
	RespCodeUserNotFound:       "user not found",
	RespCodeInactiveUser:       "inactive user",
	RespCodeValidationError:    "validation error",
	RespCodeServerError:        "server error",
}

// CodeInfo is one row of the response code table
type CodeInfo struct {
	Code    string `json:"code" yaml:"code"`
	Meaning string `json:"meaning" yaml:"meaning"`
}

// Describe returns the meaning of a response code
func Describe(respCode string) (string, bool) {
	meaning, ok := responseCodes[respCode]
	return meaning, ok
}

// ResponseCodes lists the code table ordered by code
func ResponseCodes() []CodeInfo {
	codes := make([]CodeInfo, 0, len(responseCodes))
	for code, meaning := range responseCodes {
		codes = append(codes, CodeInfo{Code: code, Meaning: meaning})
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes
}

// StatusCode is an HTTP-like status that decodes from a JSON number in any
// integral notation (200, 200.0, 2e2) or a numeric string; some endpoints
// send "200".
type StatusCode int

func (s *StatusCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*s = 0
			return nil
		}
	}
	n, err := parseStatus(text)
	if err != nil {
		return err
	}
	*s = StatusCode(n)
	return nil
}

func parseStatus(text string) (int, error) {
	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("status %q is not an integral number", text)
	}
	return int(f), nil
}

// Description is the diagnostic block every backend reply carries
type Description struct {
	Status      StatusCode `json:"status"`
	Description string     `json:"description"`
	Code        string     `json:"code"`
	Range       string     `json:"range"`
}

// ApiResponse is the canonical backend reply shape
type ApiResponse[T any] struct {
	RespCode    string      `json:"respCode"`
	Message     string      `json:"message"`
	Data        T           `json:"data"`
	Description Description `json:"description"`
}

// Succeeded applies the success rule: respCode "00" OR status 200. The two
// signals are treated as equivalent, so {"99", 200} counts as success.
func (r ApiResponse[T]) Succeeded() bool {
	return r.RespCode == RespCodeSuccess || r.Description.Status == 200
}

// Classify turns a reply into its data or a *ClassifiedError.
//
// On success Data is returned unchanged, even when it is the zero value.
// On failure the error carries the backend message (falling back to the
// description text, the code table meaning and finally
// DefaultFailureMessage), the respCode and description code.
func Classify[T any](raw ApiResponse[T]) (T, error) {
	if raw.Succeeded() {
		return raw.Data, nil
	}

	var zero T
	return zero, &ClassifiedError{
		Message:  failureMessage(raw.Message, raw.Description.Description, raw.RespCode),
		RespCode: raw.RespCode,
		Code:     raw.Description.Code,
		Status:   int(raw.Description.Status),
	}
}

func failureMessage(message, description, respCode string) string {
	if m := strings.TrimSpace(message); m != "" {
		return m
	}
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	if meaning, ok := Describe(respCode); ok && respCode != RespCodeSuccess {
		return meaning
	}
	return DefaultFailureMessage
}

// Parse decodes a reply body into the ApiResponse shape
func Parse[T any](body []byte) (ApiResponse[T], error) {
	var raw ApiResponse[T]
	if err := json.Unmarshal(body, &raw); err != nil {
		return ApiResponse[T]{}, fmt.Errorf("unrecognized response body: %w", err)
	}
	return raw, nil
}

// ClassifyBody is Parse followed by Classify
func ClassifyBody[T any](body []byte) (T, error) {
	raw, err := Parse[T](body)
	if err != nil {
		var zero T
		return zero, err
	}
	return Classify(raw)
}
