package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"google.golang.org/genai"
)

// FailureKind is the closed set of ways a completion call can fail.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureConfig
	FailureRateLimit
	FailureAuth
	FailureTimeout
	FailureEmpty
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConfig:
		return "config"
	case FailureRateLimit:
		return "rate_limit"
	case FailureAuth:
		return "auth"
	case FailureTimeout:
		return "timeout"
	case FailureEmpty:
		return "empty"
	default:
		return "other"
	}
}

// CallError is what the completion adapter returns instead of provider errors.
type CallError struct {
	Kind  FailureKind
	Cause error
}

func (e *CallError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

var (
	errMissingAPIKey = errors.New("API key is not set")
	errEmptyResponse = errors.New("empty response from model")
)

// UserMessage renders a failure as text that can be shown in the chat.
func UserMessage(kind FailureKind, cause error) string {
	switch kind {
	case FailureConfig, FailureAuth:
		return "Configuration error: Invalid or missing API key. Please check your configuration."
	case FailureRateLimit:
		return "I'm currently experiencing high demand. Please try again in a moment. (Rate limit or quota exceeded)"
	case FailureTimeout:
		return "The request took too long. Please try again."
	default:
		detail := "Unknown error"
		if cause != nil && cause.Error() != "" {
			detail = cause.Error()
		}
		return fmt.Sprintf("I'm having trouble processing your request: %s. Please check your API key and account status.", detail)
	}
}

// Classify maps a raw provider error onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	switch statusCode(err) {
	case http.StatusTooManyRequests:
		return FailureRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return FailureRateLimit
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"):
		return FailureAuth
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return FailureTimeout
	}
	return FailureOther
}

// statusCode digs the HTTP status out of the SDK error types the providers return.
func statusCode(err error) int {
	var oaiErr *goopenai.APIError
	if errors.As(err, &oaiErr) {
		if code, ok := oaiErr.Code.(string); ok && code == "insufficient_quota" {
			return http.StatusTooManyRequests
		}
		return oaiErr.HTTPStatusCode
	}
	var oaiReqErr *goopenai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode
	}
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) {
		return claudeErr.StatusCode
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code
	}
	var geminiErrPtr *genai.APIError
	if errors.As(err, &geminiErrPtr) && geminiErrPtr != nil {
		return geminiErrPtr.Code
	}
	return 0
}

func isPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return true
	}
	return strings.HasPrefix(k, "your_") && strings.HasSuffix(k, "_here")
}
