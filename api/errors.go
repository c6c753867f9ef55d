package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx response of the backend.
type Error struct {
	StatusCode int
	Detail     string // "detail" or "message" of a JSON body, the plain text body otherwise
	RequestId  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d %s (request %s)", e.StatusCode, http.StatusText(e.StatusCode), e.RequestId)
	}
	return fmt.Sprintf("backend returned %d: %s (request %s)", e.StatusCode, e.Detail, e.RequestId)
}

func newError(status int, body []byte, requestId string) *Error {
	e := &Error{StatusCode: status, RequestId: requestId}
	var m map[string]interface{}
	if json.Unmarshal(body, &m) == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if v, ok := m[key]; ok && v != nil {
				e.Detail = fmt.Sprint(v)
				return e
			}
		}
	}
	e.Detail = strings.TrimSpace(string(body))
	return e
}

// IsStatus reports whether err is (or wraps) an *Error with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
