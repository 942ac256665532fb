package model

import "time"

// ReadingLevel - уровень чтения ребенка
type ReadingLevel string

const (
	ReadingLevelBeginner     ReadingLevel = "beginner"
	ReadingLevelIntermediate ReadingLevel = "intermediate"
	ReadingLevelAdvanced     ReadingLevel = "advanced"
)

// InteractionStyle - предпочитаемый стиль взаимодействия
type InteractionStyle string

const (
	InteractionStyleGuided      InteractionStyle = "guided"
	InteractionStyleExploratory InteractionStyle = "exploratory"
	InteractionStyleEducational InteractionStyle = "educational"
)

// Preferences содержит предпочтения пользователя для персонализации историй
type Preferences struct {
	FavoriteCharacters []string         `json:"favorite_characters"`
	FavoriteThemes     []string         `json:"favorite_themes"`
	FavoriteStoryTypes []string         `json:"favorite_story_types"`
	ReadingLevel       ReadingLevel     `json:"reading_level"`
	InteractionStyle   InteractionStyle `json:"interaction_style"`
}

// ProfileMetrics - счетчики активности пользователя.
// Потеря обновления метрик не должна ронять пользовательский запрос.
type ProfileMetrics struct {
	StoriesCompleted      int     `json:"stories_completed"`
	TotalInteractions     int     `json:"total_interactions"`
	AverageEngagementTime float64 `json:"average_engagement_time"`
}

// StoryHistoryEntry - запись в истории историй пользователя
type StoryHistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Prompt       string    `json:"prompt"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	UserFeedback *string   `json:"user_feedback"`
}

// UserProfile - профиль пользователя. Ровно один на user_id,
// создается лениво при первом обращении.
type UserProfile struct {
	UserID          string              `json:"user_id"`
	Age             *int                `json:"age"`
	Gender          *string             `json:"gender"`
	CreatedAt       time.Time           `json:"created_at"`
	LastInteraction time.Time           `json:"last_interaction"`
	StoryHistory    []StoryHistoryEntry `json:"story_history"`
	Preferences     Preferences         `json:"preferences"`
	Metrics         ProfileMetrics      `json:"metrics"`
}

// NewUserProfile создает профиль с значениями по умолчанию
func NewUserProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:          userID,
		CreatedAt:       now,
		LastInteraction: now,
		StoryHistory:    []StoryHistoryEntry{},
		Preferences: Preferences{
			FavoriteCharacters: []string{},
			FavoriteThemes:     []string{},
			FavoriteStoryTypes: []string{},
			ReadingLevel:       ReadingLevelBeginner,
			InteractionStyle:   InteractionStyleGuided,
		},
	}
}

// RecentHistory возвращает последние n записей истории (для персонализации промпта)
func (p *UserProfile) RecentHistory(n int) []StoryHistoryEntry {
	if len(p.StoryHistory) <= n {
		return p.StoryHistory
	}
	return p.StoryHistory[len(p.StoryHistory)-n:]
}
