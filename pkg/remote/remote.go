// Package remote holds the HTTP plumbing shared by the backend clients:
// transport defaults, bounded error-body parsing, and the retryable API
// error type.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single backend request end to end.
	DefaultTimeout = 30 * time.Second

	maxErrorBodyBytes int64 = 64 << 10
)

// DefaultTransport returns an http.Transport with tuned connection pool
// settings shared by all backend clients.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient returns an http.Client on the default transport. A zero
// timeout falls back to DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: DefaultTransport(),
	}
}

// APIError describes a failed backend response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Retryable  bool
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s (code: %s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the response rejected our credentials.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Retryable reports whether err is worth retrying. Network-level errors are
// assumed transient; API errors carry their own verdict.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return true
}

// errorEnvelope is the error document most of our backends answer with.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ParseError turns a non-2xx response into an *APIError. The body is read
// bounded so a broken backend cannot balloon memory.
func ParseError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	data := readBodyLimited(resp.Body, maxErrorBodyBytes)
	message := formatErrorBody(data)
	if message == "" {
		message = resp.Status
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Retryable:  retryable,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var payload errorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = strings.TrimSpace(payload.Code)
	}
	return apiErr
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}

func formatErrorBody(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload errorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
		if msg != "" {
			return msg
		}
	}
	raw := strings.TrimSpace(string(data))
	if len(raw) > 500 {
		raw = raw[:500] + "..."
	}
	return raw
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}
