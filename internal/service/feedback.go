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

const summarizerSystemPrompt = `You turn a long story review into a short, actionable revision brief for the storyteller.
Keep it under 250 words. Prioritize in this order: (1) structure, (2) age-appropriateness, (3) alignment with the original request, then any secondary concerns.
Write direct instructions ("shorten the middle", "give the ending a resolution"), not commentary.`

// FeedbackSummarizer сжимает сырой фидбек судьи в ограниченное
// сообщение для регенерации и пишет его в журнал фидбека.
type FeedbackSummarizer struct {
	client  ai.Client
	stories repository.StoryRepository
	logger  *zap.Logger
}

func NewFeedbackSummarizer(client ai.Client, stories repository.StoryRepository, logger *zap.Logger) *FeedbackSummarizer {
	return &FeedbackSummarizer{
		client:  client,
		stories: stories,
		logger:  logger.Named("FeedbackSummarizer"),
	}
}

// Summarize возвращает сжатый фидбек. На сбое шлюза деградирует до
// сырого фидбека судьи - цикл регенерации продолжает работать.
func (f *FeedbackSummarizer) Summarize(ctx context.Context, rawFeedback, story, originalPrompt string, elements model.StoryElements, evaluationID int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\n", originalPrompt)
	if !elements.IsZero() {
		fmt.Fprintf(&b, "Requested elements: %s\n\n", marshalElements(elements))
	}
	fmt.Fprintf(&b, "Story:\n%s\n\n", story)
	fmt.Fprintf(&b, "Review feedback:\n%s", rawFeedback)

	message, usage, err := f.client.GenerateText(ctx, summarizerSystemPrompt, b.String(), ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.3),
		MaxTokens:   ai.IntPtr(400),
	})
	observeAIUsage("feedback", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		f.logger.Warn("Feedback summarization failed, using raw feedback", zap.Error(err))
		message = rawFeedback
	}
	message = strings.TrimSpace(message)

	if evaluationID != 0 {
		if _, err := f.stories.AddFeedback(ctx, &model.FeedbackLogEntry{
			EvaluationID: evaluationID,
			Message:      message,
			Timestamp:    time.Now().UTC(),
		}); err != nil {
			f.logger.Warn("Failed to persist feedback log entry", zap.Error(err))
		}
	}
	return message
}
