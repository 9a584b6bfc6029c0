package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// ProviderSettings selects and authenticates the chat model backend.
type ProviderSettings struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// NewChatModel builds the eino chat model for the configured provider.
func NewChatModel(ctx context.Context, s ProviderSettings) (model.BaseChatModel, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch strings.ToLower(s.Provider) {
	case "groq", "openai":
		baseURL := s.BaseURL
		if baseURL == "" && strings.EqualFold(s.Provider, "groq") {
			baseURL = groqBaseURL
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			Model:   s.Model,
			APIKey:  s.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  s.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  s.Model,
		})
	case "claude":
		var baseURLPtr *string
		if s.BaseURL != "" {
			baseURLPtr = &s.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    s.APIKey,
			Model:     s.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: s.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", s.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", s.Provider, err)
	}
	return chatModel, nil
}
