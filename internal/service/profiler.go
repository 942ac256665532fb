package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/pkg/ai"
)

const preferenceSystemPrompt = `You extract a child's profile from a free-form message written by the child or a parent.
Respond with a single JSON object:
{
  "age": number or null,
  "gender": "..." or null,
  "favorite_characters": ["..."],
  "favorite_themes": ["..."],
  "favorite_story_types": ["..."],
  "reading_level": "beginner" | "intermediate" | "advanced" | null,
  "interaction_style": "guided" | "exploratory" | "educational" | null
}
Omit or null every field the message does not mention. Do not guess.`

const recommendationSystemPrompt = `You suggest story ideas for a specific child based on their profile.
Respond with a numbered list, one short story idea per line, nothing else.`

// extractedPreferences - сырой JSON-ответ извлечения предпочтений
type extractedPreferences struct {
	Age                *int     `json:"age"`
	Gender             *string  `json:"gender"`
	FavoriteCharacters []string `json:"favorite_characters"`
	FavoriteThemes     []string `json:"favorite_themes"`
	FavoriteStoryTypes []string `json:"favorite_story_types"`
	ReadingLevel       *string  `json:"reading_level"`
	InteractionStyle   *string  `json:"interaction_style"`
}

// Profiler управляет профилями: ленивое создание, извлечение
// предпочтений из текста, персонализация промптов, запись истории.
type Profiler struct {
	client   ai.Client
	profiles repository.ProfileRepository
	logger   *zap.Logger
}

func NewProfiler(client ai.Client, profiles repository.ProfileRepository, logger *zap.Logger) *Profiler {
	return &Profiler{
		client:   client,
		profiles: profiles,
		logger:   logger.Named("Profiler"),
	}
}

// Lookup возвращает профиль без создания
func (p *Profiler) Lookup(ctx context.Context, userID string) (*model.UserProfile, error) {
	return p.profiles.Get(ctx, userID)
}

// Exists сообщает, есть ли профиль у пользователя
func (p *Profiler) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := p.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetOrCreate возвращает профиль, создавая его с дефолтами при первом
// обращении
func (p *Profiler) GetOrCreate(ctx context.Context, userID string) (*model.UserProfile, error) {
	profile, err := p.profiles.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, model.ErrProfileNotFound) {
		return nil, err
	}
	profile = model.NewUserProfile(userID, time.Now().UTC())
	if err := p.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("ошибка создания профиля %s: %w", userID, err)
	}
	p.logger.Info("User profile created", zap.String("userID", userID))
	return profile, nil
}

// NextUserID выдает идентификатор для гостевого запроса без user_id
func (p *Profiler) NextUserID(ctx context.Context) (string, error) {
	return p.profiles.NextUserID(ctx)
}

// GatherPreferences извлекает предпочтения из ответа на профилирование
// и частично сливает их в профиль. Сбой извлечения не фатален:
// профиль остается с дефолтами, гейт все равно переводится дальше.
func (p *Profiler) GatherPreferences(ctx context.Context, userID, utterance string) error {
	log := p.logger.With(zap.String("userID", userID))

	profile, err := p.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	raw, usage, err := p.client.GenerateText(ctx, preferenceSystemPrompt, utterance, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.1),
		MaxTokens:   ai.IntPtr(400),
		JSONMode:    true,
	})
	observeAIUsage("profiler", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		log.Warn("Preference extraction failed, keeping profile defaults", zap.Error(err))
		return p.touch(ctx, profile)
	}

	jsonStr, err := ai.ExtractJSONObject(raw)
	if err != nil {
		log.Warn("Preference extraction returned no JSON", zap.Error(err))
		return p.touch(ctx, profile)
	}
	var extracted extractedPreferences
	if err := json.Unmarshal([]byte(jsonStr), &extracted); err != nil {
		log.Warn("Preference extraction unparseable", zap.Error(err))
		return p.touch(ctx, profile)
	}

	mergePreferences(profile, &extracted)
	return p.touch(ctx, profile)
}

// touch обновляет last_interaction/total_interactions и сохраняет
func (p *Profiler) touch(ctx context.Context, profile *model.UserProfile) error {
	profile.LastInteraction = time.Now().UTC()
	profile.Metrics.TotalInteractions++
	return p.profiles.Save(ctx, profile)
}

// mergePreferences накладывает извлеченные поля: отсутствующие поля
// не перетирают существующие значения
func mergePreferences(profile *model.UserProfile, extracted *extractedPreferences) {
	if extracted.Age != nil {
		profile.Age = extracted.Age
	}
	if extracted.Gender != nil {
		profile.Gender = extracted.Gender
	}
	if len(extracted.FavoriteCharacters) > 0 {
		profile.Preferences.FavoriteCharacters = mergeUnique(profile.Preferences.FavoriteCharacters, extracted.FavoriteCharacters)
	}
	if len(extracted.FavoriteThemes) > 0 {
		profile.Preferences.FavoriteThemes = mergeUnique(profile.Preferences.FavoriteThemes, extracted.FavoriteThemes)
	}
	if len(extracted.FavoriteStoryTypes) > 0 {
		profile.Preferences.FavoriteStoryTypes = mergeUnique(profile.Preferences.FavoriteStoryTypes, extracted.FavoriteStoryTypes)
	}
	if extracted.ReadingLevel != nil {
		switch level := model.ReadingLevel(*extracted.ReadingLevel); level {
		case model.ReadingLevelBeginner, model.ReadingLevelIntermediate, model.ReadingLevelAdvanced:
			profile.Preferences.ReadingLevel = level
		}
	}
	if extracted.InteractionStyle != nil {
		switch style := model.InteractionStyle(*extracted.InteractionStyle); style {
		case model.InteractionStyleGuided, model.InteractionStyleExploratory, model.InteractionStyleEducational:
			profile.Preferences.InteractionStyle = style
		}
	}
}

// mergeUnique добавляет новые значения, сохраняя порядок и убирая дубликаты
func mergeUnique(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, v := range existing {
		seen[strings.ToLower(v)] = true
	}
	for _, v := range incoming {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}

// PersonalizePrompt дописывает к собранному промпту данные профиля.
// Вызывается строго после сборки промпта по намерению.
func (p *Profiler) PersonalizePrompt(profile *model.UserProfile, prompt string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAbout the listener:\n")
	if profile.Age != nil {
		fmt.Fprintf(&b, "- Age: %d\n", *profile.Age)
	}
	if profile.Gender != nil && *profile.Gender != "" {
		fmt.Fprintf(&b, "- Gender: %s\n", *profile.Gender)
	}
	if len(profile.Preferences.FavoriteCharacters) > 0 {
		fmt.Fprintf(&b, "- Favorite characters: %s\n", strings.Join(profile.Preferences.FavoriteCharacters, ", "))
	}
	if len(profile.Preferences.FavoriteThemes) > 0 {
		fmt.Fprintf(&b, "- Favorite themes: %s\n", strings.Join(profile.Preferences.FavoriteThemes, ", "))
	}
	if len(profile.Preferences.FavoriteStoryTypes) > 0 {
		fmt.Fprintf(&b, "- Favorite story types: %s\n", strings.Join(profile.Preferences.FavoriteStoryTypes, ", "))
	}
	fmt.Fprintf(&b, "- Reading level: %s\n", profile.Preferences.ReadingLevel)

	if recent := profile.RecentHistory(3); len(recent) > 0 {
		b.WriteString("- Recent stories:\n")
		for _, entry := range recent {
			fmt.Fprintf(&b, "  - %s\n", entry.Title)
		}
	}
	return b.String()
}

// RecordStoryInteraction дописывает историю в story_history и обновляет
// метрики. Ошибки здесь логируются и не роняют запрос.
func (p *Profiler) RecordStoryInteraction(ctx context.Context, userID, prompt, story string) {
	log := p.logger.With(zap.String("userID", userID))

	profile, err := p.GetOrCreate(ctx, userID)
	if err != nil {
		log.Warn("Failed to load profile for story recording", zap.Error(err))
		return
	}

	profile.StoryHistory = append(profile.StoryHistory, model.StoryHistoryEntry{
		Timestamp: time.Now().UTC(),
		Prompt:    prompt,
		Title:     storyTitle(prompt),
		Summary:   storySummary(story),
	})
	profile.Metrics.StoriesCompleted++
	profile.Metrics.TotalInteractions++
	profile.LastInteraction = time.Now().UTC()

	if err := p.profiles.Save(ctx, profile); err != nil {
		log.Warn("Failed to record story interaction", zap.Error(err))
	}
}

func storyTitle(prompt string) string {
	return truncateRunes(strings.TrimSpace(prompt), 60)
}

func storySummary(story string) string {
	return truncateRunes(strings.TrimSpace(story), 150)
}

// truncateRunes обрезает строку по границе руны, а не байта:
// срез по байтам может разрезать многобайтовый символ
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Recommendations генерирует идеи историй по профилю пользователя
func (p *Profiler) Recommendations(ctx context.Context, userID string, count int) ([]string, error) {
	if count <= 0 {
		count = 3
	}
	profile, err := p.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	userPrompt := fmt.Sprintf("Suggest %d story ideas.\n%s",
		count, p.PersonalizePrompt(profile, "Profile:"))
	raw, usage, err := p.client.GenerateText(ctx, recommendationSystemPrompt, userPrompt, ai.GenerationParams{
		Temperature: ai.Float64Ptr(0.9),
		MaxTokens:   ai.IntPtr(400),
	})
	observeAIUsage("recommendations", usage.PromptTokens, usage.CompletionTokens, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	ideas := parseNumberedLines(raw, count)
	if len(ideas) == 0 {
		return nil, errors.New("модель не вернула ни одной идеи")
	}
	return ideas, nil
}
