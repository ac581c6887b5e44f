package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/juju/errors"

	"github.com/Tyrowin/roomchat/internal/validation"
)

const msgInternal = "Internal server error"

// errorEnvelope is the body of every failed HTTP response. Message is a
// string, or a list of strings for validation failures.
type errorEnvelope struct {
	StatusCode int         `json:"statusCode"`
	Timestamp  time.Time   `json:"timestamp"`
	Path       string      `json:"path"`
	Method     string      `json:"method"`
	Message    interface{} `json:"message"`
	Error      string      `json:"error"`
}

// statusFor maps the error vocabulary of the domain packages to HTTP status
// codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.MethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders err as the JSON error envelope. Internal errors are
// logged with their stack and reported with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var message interface{} = err.Error()
	if messages, ok := validation.Messages(err); ok {
		message = messages
	}
	if status == http.StatusInternalServerError {
		httpLogger.Errorf("%s %s failed: %s", r.Method, r.URL.Path, errors.ErrorStack(err))
		message = msgInternal
	}
	writeJSON(w, status, errorEnvelope{
		StatusCode: status,
		Timestamp:  s.clock.Now().UTC(),
		Path:       r.URL.Path,
		Method:     r.Method,
		Message:    message,
		Error:      http.StatusText(status),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		httpLogger.Debugf("error writing response body: %v", err)
	}
}
