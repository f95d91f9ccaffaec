package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the backend. Detail carries the
// backend's own explanation, or the HTTP status text when the body had
// none.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
}

// errorBody is the FastAPI-style error envelope.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// newAPIError builds an APIError from a raw error body. A string detail
// is used verbatim; structured details (validation error lists) are kept
// as compact JSON; anything unparseable falls back to the status text.
func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Detail) > 0 && string(eb.Detail) != "null" {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil {
			e.Detail = s
		} else {
			e.Detail = string(eb.Detail)
		}
	}

	if strings.TrimSpace(e.Detail) == "" {
		e.Detail = http.StatusText(status)
		if e.Detail == "" {
			e.Detail = "unknown error"
		}
	}
	return e
}
