package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"

	"supportchat/internal/models"
	"supportchat/internal/observability"
)

const defaultTemperature float32 = 0.7

// Reply is the outcome of one generation: either Text or ErrorText is set.
type Reply struct {
	Text      string
	ErrorText string
	Failure   FailureKind
}

// Failed reports whether the reply carries a user-facing error instead of text.
func (r Reply) Failed() bool {
	return r.ErrorText != ""
}

// GeneratorConfig holds the per-call settings for a Generator.
type GeneratorConfig struct {
	Model          string
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
	Knowledge      string
}

// Generator turns a conversation history plus a new user message into a reply.
type Generator struct {
	completer Completer
	cfg       GeneratorConfig
}

func NewGenerator(completer Completer, cfg GeneratorConfig) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Knowledge == "" {
		cfg.Knowledge = DefaultKnowledge
	}
	return &Generator{completer: completer, cfg: cfg}
}

// Generate never returns an error: every failure is folded into Reply.ErrorText.
func (g *Generator) Generate(ctx context.Context, history []*models.Message, text string) Reply {
	turns := g.buildTurns(history, text)

	callCtx := ctx
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	log := observability.FromContext(ctx)
	start := time.Now()
	out, err := g.completer.Complete(callCtx, Request{
		Model:       g.cfg.Model,
		Turns:       turns,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err == nil && out == "" {
		err = &CallError{Kind: FailureEmpty, Cause: errEmptyResponse}
	}
	if err != nil {
		kind := Classify(err)
		cause := err
		var callErr *CallError
		if errors.As(err, &callErr) && callErr.Cause != nil {
			cause = callErr.Cause
		}
		log.WithError(err).
			WithField("failure", kind.String()).
			WithField("model", g.cfg.Model).
			WithField("turns", len(turns)).
			Warn("reply generation failed")
		return Reply{ErrorText: UserMessage(kind, cause), Failure: kind}
	}

	log.WithField("model", g.cfg.Model).
		WithField("turns", len(turns)).
		WithField("latency_ms", time.Since(start).Milliseconds()).
		Debug("reply generated")
	return Reply{Text: out}
}

func (g *Generator) buildTurns(history []*models.Message, text string) []*schema.Message {
	turns := make([]*schema.Message, 0, len(history)+2)
	turns = append(turns, schema.SystemMessage(g.cfg.Knowledge))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Sender {
		case models.SenderUser:
			turns = append(turns, schema.UserMessage(msg.Text))
		case models.SenderAI:
			turns = append(turns, schema.AssistantMessage(msg.Text, nil))
		}
	}
	turns = append(turns, schema.UserMessage(text))
	return turns
}
