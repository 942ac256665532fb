package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/pkg/ai"
)

const continueSystemPrompt = `You are a storyteller running an interactive story for a child.
Given the story so far and the child's latest choice or input, write the next scene: a few short paragraphs that move the story forward and end at a natural decision point.
Respond with the scene text only.`

const choicesSystemPrompt = `You offer a child choices for what happens next in an interactive story.
Respond with a numbered list of short options, one per line, nothing else.`

const summarySystemPrompt = `You summarize an interactive story session for a child.
Retell the path of the story so far in a few warm sentences, mentioning the choices that were made.`

const maxChoices = 3

// DialogueManager ведет интерактивные сессии историй. Сессии живут
// в памяти процесса, по одной активной на пользователя.
type DialogueManager struct {
	client ai.Client
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*model.StorySession
}

func NewDialogueManager(client ai.Client, logger *zap.Logger) *DialogueManager {
	return &DialogueManager{
		client:   client,
		logger:   logger.Named("DialogueManager"),
		sessions: make(map[string]*model.StorySession),
	}
}

// StartSession открывает новую сессию от готовой истории,
// сбрасывая предыдущую
func (d *DialogueManager) StartSession(userID, openingScene string, characters []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := model.NewStorySession(userID)
	s.Advance(openingScene, characters, "")
	d.sessions[userID] = s
}

// Reset завершает сессию пользователя. Идемпотентен.
func (d *DialogueManager) Reset(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, userID)
}

// ContinueStory продвигает сессию на один шаг: генерирует следующую
// сцену по выбору пользователя и предлагает новые варианты.
// Запрос без активной сессии не оставляет следа в карте сессий.
func (d *DialogueManager) ContinueStory(ctx context.Context, userID, userInput string) (string, []string, error) {
	log := d.logger.With(zap.String("userID", userID))

	d.mu.Lock()
	s, ok := d.sessions[userID]
	if !ok || s.CurrentScene == "" {
		d.mu.Unlock()
		return "", nil, model.ErrSessionNotFound
	}
	s.UserInputs = append(s.UserInputs, userInput)
	pathPrompt := buildPathPrompt(s, userInput)
	d.mu.Unlock()

	sceneText, usage, err := d.client.GenerateText(ctx, continueSystemPrompt, pathPrompt, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.8),
		MaxTokens:   ai.IntPtr(800),
	})
	observeAIUsage("dialogue", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		log.Error("Interactive continuation failed", zap.Error(err))
		return "", nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	sceneText = strings.TrimSpace(sceneText)

	// новой сценой считаем первый абзац продолжения
	scene := firstParagraph(sceneText)
	d.mu.Lock()
	s.Advance(scene, nil, userInput)
	d.mu.Unlock()

	choices := d.generateChoices(ctx, sceneText)
	return sceneText, choices, nil
}

// generateChoices предлагает варианты продолжения. Сбой не фатален:
// сцена возвращается без вариантов.
func (d *DialogueManager) generateChoices(ctx context.Context, scene string) []string {
	raw, usage, err := d.client.GenerateText(ctx, choicesSystemPrompt, scene, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.9),
		MaxTokens:   ai.IntPtr(200),
	})
	observeAIUsage("dialogue", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		d.logger.Warn("Choice generation failed", zap.Error(err))
		return nil
	}
	return parseNumberedLines(raw, maxChoices)
}

// Summary пересказывает путь сессии
func (d *DialogueManager) Summary(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	s, ok := d.sessions[userID]
	if !ok || (s.CurrentScene == "" && len(s.StoryPath) == 0) {
		d.mu.Unlock()
		return "", model.ErrSessionNotFound
	}
	var b strings.Builder
	for i, step := range s.StoryPath {
		fmt.Fprintf(&b, "Step %d - choice: %s\nScene: %s\n\n", i+1, step.Choice, step.Scene)
	}
	if s.CurrentScene != "" {
		fmt.Fprintf(&b, "Current scene: %s\n", s.CurrentScene)
	}
	d.mu.Unlock()

	summary, usage, err := d.client.GenerateText(ctx, summarySystemPrompt, b.String(), ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.5),
		MaxTokens:   ai.IntPtr(400),
	})
	observeAIUsage("dialogue", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return strings.TrimSpace(summary), nil
}

func buildPathPrompt(s *model.StorySession, userInput string) string {
	var b strings.Builder
	if len(s.Characters) > 0 {
		fmt.Fprintf(&b, "Characters: %s\n\n", strings.Join(s.Characters, ", "))
	}
	for _, step := range s.StoryPath {
		fmt.Fprintf(&b, "Scene: %s\nChoice: %s\n\n", step.Scene, step.Choice)
	}
	if s.CurrentScene != "" {
		fmt.Fprintf(&b, "Current scene: %s\n\n", s.CurrentScene)
	}
	fmt.Fprintf(&b, "The child's choice or input: %s", userInput)
	return b.String()
}

func firstParagraph(text string) string {
	if idx := strings.Index(text, "\n\n"); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// parseNumberedLines извлекает пункты нумерованного списка,
// не более limit штук
func parseNumberedLines(raw string, limit int) []string {
	out := make([]string, 0, limit)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// отрезаем префиксы вида "1.", "2)", "-"
		trimmed := strings.TrimLeft(line, "0123456789")
		if trimmed == line && !strings.HasPrefix(line, "-") {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, ".)- ")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
		if len(out) == limit {
			break
		}
	}
	return out
}
