package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
	"github.com/gyaneshwarpardhi/docrules/internal/scheduler"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	var v *rule.ValidationError
	switch {
	case errors.Is(err, rule.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rule.ErrDuplicateName), errors.Is(err, scheduler.ErrRuleRunning):
		return http.StatusConflict
	case errors.As(err, &v), errors.Is(err, rule.ErrNotScheduled), errors.Is(err, cronexpr.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
