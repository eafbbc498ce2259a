package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// fail replies with the status the error maps to and logs server errors.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrFactNotFound),
		errors.Is(err, entities.ErrIssueNotFound),
		errors.Is(err, entities.ErrNoScan),
		errors.Is(err, entities.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrScanInProgress),
		errors.Is(err, entities.ErrInvalidTransition),
		errors.Is(err, entities.ErrAliasConflict):
		return http.StatusConflict
	case errors.Is(err, entities.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding body: %v: %w", err, entities.ErrInvalidRequest)
	}
	return nil
}

// queryInt returns the integer query parameter key, or def when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query parameter %s=%q: %w", key, s, entities.ErrInvalidRequest)
	}
	return n, nil
}

// queryBool returns the boolean query parameter key, false when absent.
func queryBool(r *http.Request, key string) (bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("query parameter %s=%q: %w", key, s, entities.ErrInvalidRequest)
	}
	return b, nil
}

// filterParam parses an enum query parameter into a filter.
func filterParam[T comparable](r *http.Request, key string, parse func(string) (T, error)) (entities.Filter[T], error) {
	f, err := entities.ParseFilter(r.URL.Query().Get(key), parse)
	if err != nil {
		return f, fmt.Errorf("query parameter %s: %v: %w", key, err, entities.ErrInvalidRequest)
	}
	return f, nil
}
