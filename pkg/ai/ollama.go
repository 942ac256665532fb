package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient - клиент для локального Ollama API.
// Используется вместо OpenAI, когда AI_PROVIDER=ollama.
type OllamaClient struct {
	client     *api.Client
	modelName  string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient создает клиент Ollama по адресу хоста (например, http://localhost:11434)
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.ModelName == "" {
		return nil, errors.New("не указана модель для Ollama")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес Ollama %q: %w", cfg.BaseURL, err)
	}

	return &OllamaClient{
		client:     api.NewClient(base, http.DefaultClient),
		modelName:  cfg.ModelName,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// GenerateText генерирует текст через Ollama chat API.
func (c *OllamaClient) GenerateText(ctx context.Context, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	stream := false
	req := &api.ChatRequest{
		Model: c.modelName,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userInput},
		},
		Stream:  &stream,
		Options: map[string]any{},
	}
	if params.Temperature != nil {
		req.Options["temperature"] = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.Options["num_predict"] = *params.MaxTokens
	}
	if params.TopP != nil {
		req.Options["top_p"] = *params.TopP
	}
	if params.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)

		var sb strings.Builder
		var usage UsageInfo
		err := c.client.Chat(callCtx, req, func(resp api.ChatResponse) error {
			sb.WriteString(resp.Message.Content)
			if resp.Done {
				usage = UsageInfo{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				}
			}
			return nil
		})
		cancel()

		if err != nil {
			lastErr = err
			log.Error().Err(err).Int("attempt", attempt).Str("model", c.modelName).Msg("Ошибка при вызове Ollama chat")
			if attempt >= c.maxRetries || ctx.Err() != nil {
				break
			}
			time.Sleep(c.retryDelay * time.Duration(attempt))
			continue
		}

		content := sb.String()
		if content == "" {
			lastErr = errors.New("пустой ответ от Ollama")
			if attempt >= c.maxRetries {
				break
			}
			time.Sleep(c.retryDelay * time.Duration(attempt))
			continue
		}

		return content, usage, nil
	}

	return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}
