package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"supportchat/internal/session"
)

type chatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationErrors []fieldError

func (v validationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// requestValidator checks chat requests before any storage or model work.
type requestValidator struct {
	validate         *validator.Validate
	maxMessageLength int
	messageRule      string
}

func newRequestValidator(maxMessageLength int) *requestValidator {
	return &requestValidator{
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		maxMessageLength: maxMessageLength,
		messageRule:      fmt.Sprintf("required,max=%d", maxMessageLength),
	}
}

// normalize trims the request in place and returns every rule it breaks.
func (v *requestValidator) normalize(req *chatMessageRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if id, ok := session.Normalize(req.SessionID); ok {
		req.SessionID = id
	}

	var details validationErrors
	if err := v.validate.Var(req.Message, v.messageRule); err != nil {
		details = append(details, v.describe("message", err)...)
	}
	if err := v.validate.Var(req.SessionID, "omitempty,uuid"); err != nil {
		details = append(details, v.describe("sessionId", err)...)
	}
	if len(details) > 0 {
		return details
	}
	return nil
}

func (v *requestValidator) describe(field string, err error) validationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationErrors{{Field: field, Message: err.Error()}}
	}
	out := make(validationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "Message cannot be empty"
		case "max":
			msg = fmt.Sprintf("Message cannot exceed %d characters", v.maxMessageLength)
		case "uuid":
			msg = "Invalid session ID format"
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		out = append(out, fieldError{Field: field, Message: msg})
	}
	return out
}

// bindErrors turns a JSON decode failure into field details.
func bindErrors(err error) validationErrors {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return validationErrors{{Field: typeErr.Field, Message: fmt.Sprintf("Expected %s", typeErr.Type)}}
	}
	if errors.Is(err, io.EOF) {
		return validationErrors{{Field: "message", Message: "Message cannot be empty"}}
	}
	return validationErrors{{Field: "body", Message: "Invalid JSON body"}}
}
