package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
)

// Error codes returned in the native API error envelope.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeModelNotFound      = "MODEL_NOT_FOUND"
	CodeModelNotAvailable  = "MODEL_NOT_AVAILABLE"
	CodeNoMessages         = "NO_MESSAGES"
	CodeNoAIMessage        = "NO_AI_MESSAGE"
	CodeNoAPIKey           = "NO_API_KEY"
	CodeGenerationFailed   = "AI_GENERATION_FAILED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// apiError carries an HTTP status and machine-readable code alongside the
// human-readable message. Handlers build one and hand it to writeError.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errf(status int, code, format string, args ...any) *apiError {
	return &apiError{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// writeJSON writes a success envelope. Encoding failures are logged but not
// surfaced; by that point the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data}); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

// writeRawJSON encodes v as-is, for the few endpoints that sit outside the
// success envelope (health, the OpenAI surface).
func writeRawJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	body := errorEnvelope{
		Success: false,
		Error: errorBody{
			Message: e.Message,
			Code:    e.Code,
			Status:  e.Status,
			Details: e.Details,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode error response", "error", err)
	}
}

// OpenAI-compatible error envelope, used by everything under /v1.
type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type openAIErrorEnvelope struct {
	Error openAIErrorBody `json:"error"`
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message, param, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := openAIErrorEnvelope{Error: openAIErrorBody{
		Message: message,
		Type:    errType,
		Param:   param,
		Code:    code,
	}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode error response", "error", err)
	}
}
