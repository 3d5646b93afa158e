package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is matched by errors for missing repositories, refs or paths.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched when a version id or ref no longer matches the remote.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is matched by transient failures worth retrying.
	ErrUnavailable = errors.New("unavailable")
	// ErrResponseTooLarge is returned instead of a cut off response body.
	ErrResponseTooLarge = errors.New("response body too large")
)

// APIError is returned for every non-2xx response.
type APIError struct {
	Method      string
	URL         string
	StatusCode  int
	Message     string
	RateLimited bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict, e.StatusCode == http.StatusUnprocessableEntity:
		return ErrConflict
	case e.RateLimited, e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return ErrUnavailable
	}
	return nil
}

// RequestError is returned when no response was received at all.
type RequestError struct {
	Method string
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func newAPIError(method, url string, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
	} else if len(body) > 0 {
		apiErr.Message = truncate(string(body), 200)
	}

	// secondary rate limits come back as 403 with either header set
	if resp.StatusCode == http.StatusForbidden {
		if resp.Header.Get("Retry-After") != "" || resp.Header.Get("X-RateLimit-Remaining") == "0" {
			apiErr.RateLimited = true
		}
	}

	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
