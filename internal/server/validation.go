package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (ss *StoreServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	ss.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	ss.respondJSON(w, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (ss *StoreServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ss.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
		"request_id":  requestIDFrom(r.Context()),
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	ss.respondJSON(w, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondJSON encodes v as the response body. Headers must already be set.
func (ss *StoreServer) respondJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ss.logger.WithError(err).Error("Failed to encode response")
	}
}

// validateRunLimit parses the limit query parameter of the run log.
func (ss *StoreServer) validateRunLimit(raw string) (int, *ValidationError) {
	raw = sanitizeInput(raw)
	if raw == "" {
		return defaultRunLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "Limit must be a valid integer",
			Code:    "INVALID_LIMIT_FORMAT",
		}
	}

	if limit < 1 || limit > maxRunLimit {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "Limit must be between 1 and 100",
			Code:    "INVALID_LIMIT_VALUE",
		}
	}

	return limit, nil
}

// sanitizeInput strips null bytes and surrounding whitespace.
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
