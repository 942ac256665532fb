package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"storyteller-server/pkg/ai"
)

const ageFilterSystemPrompt = `You are a safety reviewer for children's stories.
Check the story for age-appropriateness: no violence, no scary imagery, no adult themes, vocabulary suitable for the stated age.
Respond with a single JSON object: {"is_safe": true|false, "evaluation": "one short paragraph explaining the verdict"}.`

// AgeFilterResult - вердикт проверки возрастной безопасности
type AgeFilterResult struct {
	IsSafe     bool   `json:"is_safe"`
	Evaluation string `json:"evaluation"`
}

// AgeFilter - дополнительная LLM-проверка безопасности сгенерированной
// истории. Включается флагом конфигурации; сбой проверки трактуется
// как "безопасно" и никогда не роняет запрос.
type AgeFilter struct {
	client ai.Client
	logger *zap.Logger
}

func NewAgeFilter(client ai.Client, logger *zap.Logger) *AgeFilter {
	return &AgeFilter{
		client: client,
		logger: logger.Named("AgeFilter"),
	}
}

// Check возвращает вердикт безопасности истории для заданного возраста.
// ageGroup может быть пустым.
func (f *AgeFilter) Check(ctx context.Context, story, ageGroup string) AgeFilterResult {
	userPrompt := story
	if ageGroup != "" {
		userPrompt = fmt.Sprintf("Target age group: %s\n\nStory:\n%s", ageGroup, story)
	}

	raw, usage, err := f.client.GenerateText(ctx, ageFilterSystemPrompt, userPrompt, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.0),
		MaxTokens:   ai.IntPtr(300),
		JSONMode:    true,
	})
	observeAIUsage("agefilter", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		f.logger.Warn("Age filter check failed, passing story through", zap.Error(err))
		return AgeFilterResult{IsSafe: true, Evaluation: "Safety check unavailable."}
	}

	jsonStr, err := ai.ExtractJSONObject(raw)
	if err != nil {
		f.logger.Warn("Age filter returned no JSON", zap.Error(err))
		return AgeFilterResult{IsSafe: true, Evaluation: "Safety check unavailable."}
	}
	var result AgeFilterResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		f.logger.Warn("Age filter verdict unparseable", zap.Error(err))
		return AgeFilterResult{IsSafe: true, Evaluation: "Safety check unavailable."}
	}
	return result
}
