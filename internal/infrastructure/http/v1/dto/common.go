// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
)

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// parseID parses a required UUID field.
func parseID(field, value string) (id.ID, error) {
	parsed, err := id.Parse(value)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid "+field+" format").
			WithDetail("field", field).
			WithDetail("value", value)
	}
	return parsed, nil
}
