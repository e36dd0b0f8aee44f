package dify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEmptyQuery is returned when a chat request carries no query text.
	ErrEmptyQuery = errors.New("dify: empty query")

	// ErrStreamAborted is returned when the event stream breaks off mid-read.
	ErrStreamAborted = errors.New("dify: stream aborted")
)

// APIError represents a non-2xx response or an error event from Dify.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dify API error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsConversationNotFound reports whether Dify no longer knows the conversation id
// sent with a chat request.
func IsConversationNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound &&
		strings.Contains(strings.ToLower(apiErr.Message), "conversation not exists")
}

// IsNotFound reports whether the error is a 404 from Dify.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// newAPIError builds an APIError from a response body, using its code and
// message when the body is Dify's JSON error shape.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Code: "api_error", Message: strings.TrimSpace(string(body))}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Code != "" {
			apiErr.Code = payload.Code
		}
		if payload.Message != "" {
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
