package remote

import (
	"fmt"
	"net/http"

	"github.com/starford/convsync/internal/apperr"
)

// HTTPError is a non-2xx response from the convention service.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: http %d %s: %s", e.Method, e.Path, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is maps 404 to apperr.ErrNotFound and 409 to apperr.ErrConflict.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case apperr.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperr.ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}
