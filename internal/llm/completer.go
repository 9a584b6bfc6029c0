package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Request is one completion call: the full turn list plus sampling settings.
type Request struct {
	Model       string
	Turns       []*schema.Message
	MaxTokens   int
	Temperature float32
}

// Completer is the boundary around the external model. Implementations
// return either text or a *CallError, never a raw provider error.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type modelFactory func(ctx context.Context, s ProviderSettings) (model.BaseChatModel, error)

// EinoCompleter calls a chat model built lazily from ProviderSettings.
type EinoCompleter struct {
	settings ProviderSettings
	factory  modelFactory

	mu        sync.Mutex
	chatModel model.BaseChatModel
}

// NewEinoCompleter never fails: a missing credential surfaces per call as FailureConfig.
func NewEinoCompleter(settings ProviderSettings) *EinoCompleter {
	return &EinoCompleter{settings: settings, factory: NewChatModel}
}

func (c *EinoCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if isPlaceholderKey(c.settings.APIKey) {
		return "", &CallError{Kind: FailureConfig, Cause: errMissingAPIKey}
	}
	chatModel, err := c.model(ctx)
	if err != nil {
		return "", &CallError{Kind: FailureConfig, Cause: err}
	}

	opts := []model.Option{
		model.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	resp, err := chatModel.Generate(ctx, req.Turns, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", &CallError{Kind: FailureTimeout, Cause: err}
		}
		return "", &CallError{Kind: Classify(err), Cause: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &CallError{Kind: FailureEmpty, Cause: errEmptyResponse}
	}
	return resp.Content, nil
}

func (c *EinoCompleter) model(ctx context.Context) (model.BaseChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatModel != nil {
		return c.chatModel, nil
	}
	m, err := c.factory(ctx, c.settings)
	if err != nil {
		return nil, err
	}
	c.chatModel = m
	return m, nil
}
