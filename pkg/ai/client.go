package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// ErrGenerationFailed - ошибка при генерации текста AI
var ErrGenerationFailed = errors.New("ошибка генерации текста AI")

// tokenEncoding - кодировка для оценки количества токенов,
// когда бэкенд не возвращает usage.
const tokenEncoding = "cl100k_base"

// GenerationParams содержит параметры генерации.
// Используем указатели, чтобы отличить 0/0.0 от отсутствия значения.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	// JSONMode требует от модели валидный JSON-объект в ответе.
	JSONMode bool
}

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client интерфейс для взаимодействия с AI API
type Client interface {
	// GenerateText генерирует текст на основе системного промпта, ввода пользователя и параметров.
	GenerateText(ctx context.Context, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	APIKey     string
	BaseURL    string
	ModelName  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIClient - клиент поверх OpenAI-совместимого API
type OpenAIClient struct {
	client     *openai.Client
	modelName  string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	encoder    *tiktoken.Tiktoken
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient создает новый экземпляр клиента нейросети
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("не указан API ключ")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4"
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

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	// Кодировщик нужен только для оценки usage, его отсутствие не критично.
	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", tokenEncoding).Msg("Не удалось загрузить tiktoken, оценка токенов отключена")
		encoder = nil
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(config),
		modelName:  cfg.ModelName,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		encoder:    encoder,
	}, nil
}

// GenerateText выполняет запрос к API с ретраями и экспоненциальной задержкой.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userInput},
		},
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		cancel()

		if err != nil {
			lastErr = err
			log.Error().Err(err).Int("attempt", attempt).Str("model", c.modelName).Msg("Ошибка при вызове CreateChatCompletion")
			if attempt >= c.maxRetries || ctx.Err() != nil {
				break
			}
			c.sleepBeforeRetry(ctx, attempt)
			continue
		}

		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			lastErr = errors.New("пустой ответ от API")
			log.Warn().Int("attempt", attempt).Msg("Пустой ответ от AI")
			if attempt >= c.maxRetries {
				break
			}
			c.sleepBeforeRetry(ctx, attempt)
			continue
		}

		content := resp.Choices[0].Message.Content

		// В JSON-режиме проверяем, что ответ действительно парсится.
		if params.JSONMode {
			var js json.RawMessage
			if json.Unmarshal([]byte(content), &js) != nil {
				lastErr = errors.New("ответ AI не является валидным JSON")
				log.Warn().Int("attempt", attempt).Msg("Ответ AI не является валидным JSON, пробуем снова")
				if attempt >= c.maxRetries {
					break
				}
				c.sleepBeforeRetry(ctx, attempt)
				continue
			}
		}

		usage := UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if usage.TotalTokens == 0 {
			usage = c.estimateUsage(systemPrompt+userInput, content)
		}

		return content, usage, nil
	}

	return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

// sleepBeforeRetry ждет перед следующей попыткой (экспоненциальная задержка + джиттер).
func (c *OpenAIClient) sleepBeforeRetry(ctx context.Context, attempt int) {
	delay := float64(c.retryDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	wait := time.Duration(delay)
	if wait < c.retryDelay {
		wait = c.retryDelay
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// estimateUsage оценивает количество токенов через tiktoken,
// если бэкенд не вернул usage.
func (c *OpenAIClient) estimateUsage(prompt, completion string) UsageInfo {
	if c.encoder == nil {
		return UsageInfo{}
	}
	promptTokens := len(c.encoder.Encode(prompt, nil, nil))
	completionTokens := len(c.encoder.Encode(completion, nil, nil))
	return UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// Float64Ptr возвращает указатель на float64
func Float64Ptr(f float64) *float64 {
	return &f
}

// IntPtr возвращает указатель на int
func IntPtr(i int) *int {
	return &i
}
