package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/pkg/ai"
)

// Ключевые слова, по которым запрос вообще считается "про истории".
// Без совпадения классификатор не вызывается (short-circuit в non_story).
var storyKeywords = []string{
	"story", "tale", "adventure", "tell me", "once upon",
	"fairy", "character", "princess", "dragon", "hero",
	"narrate", "bedtime", "fable", "legend", "imagine",
	"make up", "continue", "change", "rewrite", "shorter", "longer",
}

const intentSystemPrompt = `You are an intent classifier for a children's storytelling assistant.
Analyze the user's message together with the provided conversation context and respond with a single JSON object:
{
  "intent_type": "new_story" | "change_story" | "update_story" | "non_story",
  "introduction_context": "one short instruction for the storyteller, or empty",
  "story_elements": {
    "characters": [{"name": "...", "description": "..."}],
    "setting": "...",
    "conflict": "...",
    "plot_idea": "...",
    "theme": ["..."],
    "moral_lesson": "...",
    "tone": "...",
    "length_preference": "...",
    "target_age_group": "..."
  },
  "error_message": "filled only when the request cannot be classified"
}
Omit story element fields that the message does not mention. Use "change_story" when the user wants a substantially different version of the previous story, "update_story" for a small targeted edit, "non_story" when the message is not about stories at all (then put a short friendly explanation into error_message).`

// ClassificationContext - контекст, собранный вызывающей стороной.
// Классификатор сам в хранилища не ходит.
type ClassificationContext struct {
	// RecentTurns - до 5 последних ходов диалога
	RecentTurns []model.Conversation
	LastStory   string
	LastPrompt  string
}

// llmIntentResponse - сырой JSON-ответ классификатора
type llmIntentResponse struct {
	IntentType          string              `json:"intent_type"`
	IntroductionContext string              `json:"introduction_context"`
	StoryElements       model.StoryElements `json:"story_elements"`
	ErrorMessage        string              `json:"error_message"`
}

// IntentAnalyzer классифицирует запросы пользователя и извлекает
// элементы истории. Чистая функция над переданным контекстом.
type IntentAnalyzer struct {
	client ai.Client
	logger *zap.Logger
}

func NewIntentAnalyzer(client ai.Client, logger *zap.Logger) *IntentAnalyzer {
	return &IntentAnalyzer{
		client: client,
		logger: logger.Named("IntentAnalyzer"),
	}
}

// containsStoryKeyword проверяет наличие хотя бы одного доменного слова
func containsStoryKeyword(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range storyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify возвращает типизированное намерение. Никогда не возвращает
// ошибку: любой сбой шлюза деградирует в intent=error, action=stop.
func (a *IntentAnalyzer) Classify(ctx context.Context, utterance, userID string, cc ClassificationContext) model.IntentResult {
	log := a.logger.With(zap.String("userID", userID))

	if !containsStoryKeyword(utterance) {
		intentClassificationsTotal.WithLabelValues(string(model.IntentNonStory)).Inc()
		return model.IntentResult{
			Intent:  model.IntentNonStory,
			Action:  model.ActionStop,
			Message: "I'm a storytelling assistant. Ask me for a story and I'll be happy to help!",
		}
	}

	raw, usage, err := a.client.GenerateText(ctx, intentSystemPrompt, a.buildUserPrompt(utterance, cc), ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.2),
		MaxTokens:   ai.IntPtr(800),
		JSONMode:    true,
	})
	observeAIUsage("intent", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		log.Warn("Intent classification gateway call failed", zap.Error(err))
		return classificationError()
	}

	parsed, err := parseIntentResponse(raw)
	if err != nil {
		log.Warn("Intent classification response unparseable", zap.Error(err))
		return classificationError()
	}

	result := postProcessIntent(parsed)
	intentClassificationsTotal.WithLabelValues(string(result.Intent)).Inc()
	log.Debug("Intent classified",
		zap.String("intent", string(result.Intent)),
		zap.String("action", string(result.Action)))
	return result
}

func (a *IntentAnalyzer) buildUserPrompt(utterance string, cc ClassificationContext) string {
	var b strings.Builder

	turns := cc.RecentTurns
	if len(turns) > 5 {
		turns = turns[len(turns)-5:]
	}
	if len(turns) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, conv := range turns {
			for _, msg := range conv.Messages {
				fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
			}
		}
		b.WriteString("\n")
	}
	if cc.LastPrompt != "" {
		fmt.Fprintf(&b, "Previous story request: %s\n", cc.LastPrompt)
	}
	if cc.LastStory != "" {
		fmt.Fprintf(&b, "Previous story text:\n%s\n\n", cc.LastStory)
	}
	fmt.Fprintf(&b, "User message: %s", utterance)
	return b.String()
}

func parseIntentResponse(raw string) (*llmIntentResponse, error) {
	jsonStr, err := ai.ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var resp llmIntentResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("ошибка разбора JSON классификатора: %w", err)
	}
	return &resp, nil
}

func classificationError() model.IntentResult {
	return model.IntentResult{
		Intent:  model.IntentError,
		Action:  model.ActionStop,
		Message: "I couldn't quite understand that. Could you rephrase your request?",
	}
}

// postProcessIntent применяет политику действий к сырому ответу модели
func postProcessIntent(resp *llmIntentResponse) model.IntentResult {
	intent := model.IntentType(resp.IntentType)
	result := model.IntentResult{
		Intent:   intent,
		Elements: resp.StoryElements,
		Context:  resp.IntroductionContext,
	}

	switch intent {
	case model.IntentNewStory, model.IntentChangeStory:
		if !resp.StoryElements.HasEssentials() {
			result.Action = model.ActionRequestMoreInfo
			result.Message = "I'd love to tell that story! Could you tell me a bit more - who should it be about, or where should it happen?"
			return result
		}
		result.Action = model.ActionContinue
	case model.IntentUpdateStory:
		// правка подразумевает продолжение, даже без полных элементов
		result.Action = model.ActionContinue
	case model.IntentNonStory:
		result.Action = model.ActionStop
		result.Message = resp.ErrorMessage
		if result.Message == "" {
			result.Message = "I'm a storytelling assistant. Ask me for a story and I'll be happy to help!"
		}
	default:
		return classificationError()
	}
	return result
}

const refineSystemPrompt = `You adjust story elements for a children's story that needs to be improved.
Given the original request, the current story elements, the judge's verdict and the improvement feedback, respond with a single JSON object holding the updated story elements (same schema as before: characters, setting, conflict, plot_idea, theme, moral_lesson, tone, length_preference, target_age_group).
Only include fields that should change; keep the story recognizably the same.`

// RefineElements корректирует элементы истории по фидбеку судьи перед
// регенерацией. На любом сбое возвращает текущие элементы без изменений.
func (a *IntentAnalyzer) RefineElements(ctx context.Context, prompt string, current model.StoryElements, eval *model.Evaluation, feedbackMessage string) model.StoryElements {
	userPrompt := fmt.Sprintf(
		"Original request: %s\n\nCurrent story elements:\n%s\n\nJudge verdict: score %d/10, appropriate=%t, reason: %s\n\nImprovement feedback:\n%s",
		prompt, marshalElements(current), eval.Score, eval.IsAppropriate, eval.Reason, feedbackMessage,
	)

	raw, usage, err := a.client.GenerateText(ctx, refineSystemPrompt, userPrompt, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.3),
		MaxTokens:   ai.IntPtr(600),
		JSONMode:    true,
	})
	observeAIUsage("refine", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		a.logger.Warn("Element refinement failed, keeping current elements", zap.Error(err))
		return current
	}

	jsonStr, err := ai.ExtractJSONObject(raw)
	if err != nil {
		return current
	}
	var updated model.StoryElements
	if err := json.Unmarshal([]byte(jsonStr), &updated); err != nil {
		a.logger.Warn("Refined elements unparseable, keeping current elements", zap.Error(err))
		return current
	}
	return current.Merge(updated)
}

func marshalElements(elements model.StoryElements) string {
	data, err := json.Marshal(elements)
	if err != nil {
		return "{}"
	}
	return string(data)
}
