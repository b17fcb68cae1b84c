package paperless

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches 404 responses and names missing from the catalog.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from paperless.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("paperless %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether the request may succeed when repeated. Paperless
// answers 500 when its database runs out of connections.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusInternalServerError
}
