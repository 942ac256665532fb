package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/pkg/ai"
)

const rubricSystemPrompt = `You are a careful reviewer of children's stories.
Evaluate the story below against these ten criteria, writing a short paragraph for each:
1. Correlation with the original request
2. Age-appropriateness
3. Structure and completeness (beginning, middle, end)
4. Length and pacing
5. Language clarity
6. Educational and emotional value
7. Engagement
8. Bedtime suitability
9. Visual support potential (how well scenes could be illustrated)
10. Improvement suggestions

End your review with a section titled "Potential improvements:" listing concrete, actionable changes.`

const scoringSystemPrompt = `You convert a free-text review of a children's story into a final verdict.
Weighted rubric: the most important criteria (correlation with the request, age-appropriateness, structure) are worth 6 of 10 points combined; important criteria (length/pacing, clarity) are worth 3; the remaining criteria are worth 1 combined.
Hard rule: if any most-important criterion is a complete failure, the story is not appropriate regardless of the total.
Respond with exactly three lines:
is_appropriate: YES or NO
reason: one sentence, at most 30 words
score: X/10`

// Маркеры секции с предложениями в тексте рубрики
var feedbackMarkers = []string{
	"Potential improvements:",
	"Suggestions for Improvement:",
}

const noSuggestionsFeedback = "No specific improvement suggestions were found in the evaluation."

// Judge оценивает историю двухпроходным пайплайном: свободная рубрика,
// затем скоринг по ней. Сбой любого прохода деградирует в вердикт
// score=0/not appropriate и никогда не валит цикл регенерации.
type Judge struct {
	client  ai.Client
	stories repository.StoryRepository
	logger  *zap.Logger
}

func NewJudge(client ai.Client, stories repository.StoryRepository, logger *zap.Logger) *Judge {
	return &Judge{
		client:  client,
		stories: stories,
		logger:  logger.Named("Judge"),
	}
}

// Evaluate возвращает оценку истории. Ошибки шлюза не пробрасываются:
// результатом всегда является валидный Evaluation.
func (j *Judge) Evaluate(ctx context.Context, story, originalPrompt string, elements model.StoryElements, userStoryID int64) *model.Evaluation {
	log := j.logger.With(zap.Int64("userStoryID", userStoryID))

	fullEvaluation := j.rubricPass(ctx, story, originalPrompt, elements)
	verdictRaw := j.scoringPass(ctx, fullEvaluation)
	verdict := ai.ParseVerdictResponse(verdictRaw)

	eval := &model.Evaluation{
		UserStoryID:    userStoryID,
		Score:          verdict.Score,
		IsAppropriate:  verdict.IsAppropriate,
		Reason:         verdict.Reason,
		Feedback:       extractFeedback(fullEvaluation),
		FullEvaluation: fullEvaluation,
		Timestamp:      time.Now().UTC(),
	}

	if userStoryID != 0 {
		id, err := j.stories.AddEvaluation(ctx, eval)
		if err != nil {
			// потеря записи оценки не критична для запроса
			log.Warn("Failed to persist evaluation", zap.Error(err))
		} else {
			eval.ID = id
		}
	}

	log.Debug("Story evaluated",
		zap.Int("score", eval.Score),
		zap.Bool("isAppropriate", eval.IsAppropriate))
	return eval
}

// rubricPass - свободная оценка по десяти критериям. Текст не парсится,
// хранится дословно как full_evaluation и источник фидбека.
func (j *Judge) rubricPass(ctx context.Context, story, originalPrompt string, elements model.StoryElements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\n", originalPrompt)
	if !elements.IsZero() {
		fmt.Fprintf(&b, "Requested elements: %s\n\n", marshalElements(elements))
	}
	fmt.Fprintf(&b, "Story:\n%s", story)

	text, usage, err := j.client.GenerateText(ctx, rubricSystemPrompt, b.String(), ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.2),
		MaxTokens:   ai.IntPtr(1200),
	})
	observeAIUsage("judge", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		j.logger.Warn("Rubric pass failed", zap.Error(err))
		return fmt.Sprintf("ERROR: evaluation unavailable (%v)", err)
	}
	return strings.TrimSpace(text)
}

// scoringPass превращает текст рубрики в три строки вердикта.
// Сбой шлюза возвращает строку с маркером ERROR, которую парсер
// превращает в score=0.
func (j *Judge) scoringPass(ctx context.Context, fullEvaluation string) string {
	// рубрика уже провалилась - не тратим второй вызов
	if strings.Contains(fullEvaluation, "ERROR") {
		return fullEvaluation
	}

	text, usage, err := j.client.GenerateText(ctx, scoringSystemPrompt, fullEvaluation, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.0),
		MaxTokens:   ai.IntPtr(200),
	})
	observeAIUsage("judge", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		j.logger.Warn("Scoring pass failed", zap.Error(err))
		return fmt.Sprintf("ERROR: scoring unavailable (%v)", err)
	}
	return text
}

// extractFeedback ищет секцию с предложениями по известным маркерам
func extractFeedback(fullEvaluation string) string {
	for _, marker := range feedbackMarkers {
		if idx := strings.Index(fullEvaluation, marker); idx != -1 {
			return strings.TrimSpace(fullEvaluation[idx+len(marker):])
		}
	}
	return noSuggestionsFeedback
}
