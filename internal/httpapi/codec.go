package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/pkg/core"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body. An empty body leaves v untouched when optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return core.Invalid("body", "required")
	default:
		return core.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, intake.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Error = core.ErrValidation.Error()
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		s.deps.Logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func queryInt(r *http.Request, key string, v *core.ValidationError) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.Add(key, "must be an integer")
	}
	return n
}

func queryFloat(r *http.Request, key string, v *core.ValidationError) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		v.Add(key, "required")
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		v.Add(key, "must be a number")
	}
	return f
}

func queryBool(r *http.Request, key string, v *core.ValidationError) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		v.Add(key, "must be true or false")
	}
	return b
}
