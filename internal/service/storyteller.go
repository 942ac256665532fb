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

const storytellerSystemPrompt = `You are a warm, imaginative storyteller for children.
Write complete stories with a clear beginning, middle and end, simple language, and a gentle tone suitable for bedtime.
Never include violence, scary imagery or adult themes. Respond with the story text only, no preamble.`

// apologyStory возвращается пользователю, когда шлюз недоступен.
// Запрос при этом не считается ошибкой на уровне генератора.
const apologyStory = "I'm sorry, I'm having trouble coming up with a story right now. Let's try again in a little while!"

// GeneratedStory - результат генерации. Err заполнен при сбое шлюза,
// Story при этом содержит текст-извинение, а не пустую строку.
type GeneratedStory struct {
	Story       string
	Metadata    model.StoryMetadata
	StoryID     int64
	UserStoryID int64
	Err         error
}

// Storyteller собирает промпт по намерению, генерирует историю и
// сохраняет Story Record + связь пользователь-история.
type Storyteller struct {
	client   ai.Client
	stories  repository.StoryRepository
	profiler *Profiler
	logger   *zap.Logger
}

func NewStoryteller(client ai.Client, stories repository.StoryRepository, profiler *Profiler, logger *zap.Logger) *Storyteller {
	return &Storyteller{
		client:   client,
		stories:  stories,
		profiler: profiler,
		logger:   logger.Named("Storyteller"),
	}
}

// Generate создает историю по намерению и элементам. Никогда не
// возвращает ошибку наружу: сбой шлюза дает текст-извинение + Err.
func (s *Storyteller) Generate(ctx context.Context, prompt, userID string, elements model.StoryElements, intent model.IntentType, instruction, previousStory string) GeneratedStory {
	log := s.logger.With(zap.String("userID", userID), zap.String("intent", string(intent)))

	userPrompt := s.assemblePrompt(prompt, elements, intent, instruction, previousStory)

	// Персонализация строго ПОСЛЕ сборки по намерению, чтобы логика
	// намерения не могла ее перетереть
	if profile, err := s.profiler.Lookup(ctx, userID); err == nil && profile != nil {
		userPrompt = s.profiler.PersonalizePrompt(profile, userPrompt)
	}

	story, usage, err := s.client.GenerateText(ctx, storytellerSystemPrompt, userPrompt, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.8),
		MaxTokens:   ai.IntPtr(1500),
	})
	observeAIUsage("storyteller", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		log.Error("Story generation failed", zap.Error(err))
		return GeneratedStory{
			Story: apologyStory,
			Err:   fmt.Errorf("%w: %v", ErrGenerationFailed, err),
		}
	}
	story = strings.TrimSpace(story)

	result := GeneratedStory{
		Story:    story,
		Metadata: computeMetadata(story),
	}

	storyID, userStoryID, err := s.persist(ctx, prompt, userID, story, result.Metadata, intent)
	if err != nil {
		// потеря записи не должна ронять пользовательский запрос
		log.Warn("Failed to persist generated story", zap.Error(err))
	} else {
		result.StoryID = storyID
		result.UserStoryID = userStoryID
	}
	return result
}

// assemblePrompt строит пользовательскую часть промпта в зависимости
// от намерения
func (s *Storyteller) assemblePrompt(prompt string, elements model.StoryElements, intent model.IntentType, instruction, previousStory string) string {
	var b strings.Builder

	if instruction != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", instruction)
	}

	switch intent {
	case model.IntentChangeStory, model.IntentUpdateStory:
		if previousStory == "" {
			// контекст утерян - деградируем до новой истории
			b.WriteString("Note: the previous story is no longer available, write a fresh story instead.\n\n")
			s.writeElements(&b, prompt, elements)
			return b.String()
		}
		fmt.Fprintf(&b, "Here is the previous story:\n%s\n\n", previousStory)
		if intent == model.IntentChangeStory {
			fmt.Fprintf(&b, "The child asked: %s\nWrite a substantially revised version of the story that honors this request.", prompt)
		} else {
			fmt.Fprintf(&b, "The child asked: %s\nMake a minimal, targeted edit to the story to satisfy this request, keeping everything else intact.", prompt)
		}
		if !elements.IsZero() {
			b.WriteString("\n")
			s.writeElementConstraints(&b, elements)
		}
	default:
		s.writeElements(&b, prompt, elements)
	}
	return b.String()
}

func (s *Storyteller) writeElements(b *strings.Builder, prompt string, elements model.StoryElements) {
	if elements.IsZero() {
		fmt.Fprintf(b, "Write a children's story based on this request: %s", prompt)
		return
	}
	fmt.Fprintf(b, "Write a children's story based on this request: %s\n", prompt)
	s.writeElementConstraints(b, elements)
}

func (s *Storyteller) writeElementConstraints(b *strings.Builder, elements model.StoryElements) {
	b.WriteString("Weave in the following elements where they fit naturally:\n")
	if descs := elements.CharacterDescriptions(); descs != "" {
		fmt.Fprintf(b, "- Characters: %s\n", descs)
	}
	if elements.Setting != "" {
		fmt.Fprintf(b, "- Setting: %s\n", elements.Setting)
	}
	if elements.Conflict != "" {
		fmt.Fprintf(b, "- Conflict: %s\n", elements.Conflict)
	}
	if elements.PlotIdea != "" {
		fmt.Fprintf(b, "- Plot idea: %s\n", elements.PlotIdea)
	}
	if len(elements.Themes) > 0 {
		fmt.Fprintf(b, "- Themes: %s\n", strings.Join(elements.Themes, ", "))
	}
	if elements.MoralLesson != "" {
		fmt.Fprintf(b, "- Moral lesson: %s\n", elements.MoralLesson)
	}
	if elements.Tone != "" {
		fmt.Fprintf(b, "- Tone: %s\n", elements.Tone)
	}
	if elements.LengthPreference != "" {
		fmt.Fprintf(b, "- Length: %s\n", elements.LengthPreference)
	}
	if elements.TargetAgeGroup != "" {
		fmt.Fprintf(b, "- Target age group: %s\n", elements.TargetAgeGroup)
	}
}

func (s *Storyteller) persist(ctx context.Context, prompt, userID, story string, metadata model.StoryMetadata, intent model.IntentType) (int64, int64, error) {
	now := time.Now().UTC()
	storyID, err := s.stories.AddStory(ctx, &model.Story{
		Prompt:    prompt,
		Story:     story,
		Timestamp: now,
		Metadata:  metadata,
	})
	if err != nil {
		return 0, 0, err
	}
	userStoryID, err := s.stories.AddUserStory(ctx, &model.UserStory{
		UserID:    userID,
		StoryID:   storyID,
		Prompt:    prompt,
		Intent:    intent,
		Timestamp: now,
	})
	if err != nil {
		return storyID, 0, err
	}
	return storyID, userStoryID, nil
}

const regenerateSystemPrompt = `You are a warm, imaginative storyteller for children, revising one of your own stories.
You will receive the original request, the current draft, the judge's verdict and concrete improvement feedback.
Rewrite the story so it addresses the feedback while keeping what already works. Respond with the revised story text only.`

// Regenerate создает улучшенный драфт от лучшего на данный момент.
// Драфты между итерациями не персистятся, сохраняется только принятый.
func (s *Storyteller) Regenerate(ctx context.Context, originalPrompt, bestDraft string, elements model.StoryElements, eval *model.Evaluation, feedbackMessage string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\n", originalPrompt)
	fmt.Fprintf(&b, "Current draft:\n%s\n\n", bestDraft)
	fmt.Fprintf(&b, "Judge verdict: score %d/10, appropriate=%t, reason: %s\n\n", eval.Score, eval.IsAppropriate, eval.Reason)
	fmt.Fprintf(&b, "Improvement feedback:\n%s\n", feedbackMessage)
	if !elements.IsZero() {
		b.WriteString("\n")
		s.writeElementConstraints(&b, elements)
	}

	story, usage, err := s.client.GenerateText(ctx, regenerateSystemPrompt, b.String(), ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.7),
		MaxTokens:   ai.IntPtr(1500),
	})
	observeAIUsage("storyteller", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return strings.TrimSpace(story), nil
}

// PersistAccepted сохраняет финальный принятый драфт, когда он
// отличается от изначально записанного текста
func (s *Storyteller) PersistAccepted(ctx context.Context, prompt, userID, story string, intent model.IntentType) (model.StoryMetadata, error) {
	metadata := computeMetadata(story)
	if _, _, err := s.persist(ctx, prompt, userID, story, metadata, intent); err != nil {
		return metadata, err
	}
	return metadata, nil
}
