package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"concord/internal/model"
)

// OpenAIProvider rewords negation queries via the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    model.LLMConfig
}

// NewOpenAIProvider creates a provider; an API key is required.
func NewOpenAIProvider(cfg model.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

// NegationQuery asks the model for a single counter-search query.
func (p *OpenAIProvider) NegationQuery(ctx context.Context, claim string) (string, error) {
	mdl := p.cfg.Model
	if mdl == "" {
		mdl = openai.GPT4oMini
	}
	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 200
	}
	timeout := time.Duration(p.cfg.TimeoutS) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     mdl,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildNegationPrompt(claim)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("negation query: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("negation query: empty response")
	}
	query := strings.TrimSpace(resp.Choices[0].Message.Content)
	query = strings.Trim(query, `"'`)
	if query == "" {
		return "", fmt.Errorf("negation query: blank query")
	}
	return query, nil
}
