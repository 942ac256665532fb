package handler

import "storyteller-server/internal/model"

// StoryRequest - тело POST /api/story
type StoryRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`
}

// StoryResponse - ответ POST /api/story. Story равен null для ответов
// гейта профилирования и не-continue намерений.
type StoryResponse struct {
	Status   string               `json:"status"`
	Message  string               `json:"message,omitempty"`
	UserID   string               `json:"user_id,omitempty"`
	Story    *string              `json:"story"`
	Intent   model.IntentType     `json:"intent,omitempty"`
	Metadata *model.StoryMetadata `json:"metadata,omitempty"`
}

// ContinueRequest - тело POST /api/story/continue
type ContinueRequest struct {
	UserID string `json:"user_id"`
	Input  string `json:"input"`
}

// ContinueResponse - следующая сцена интерактивной истории
type ContinueResponse struct {
	Scene   string   `json:"scene"`
	Choices []string `json:"choices"`
}

// SummaryResponse - пересказ интерактивной сессии
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// RecommendationsResponse - идеи историй по профилю
type RecommendationsResponse struct {
	UserID          string   `json:"user_id"`
	Recommendations []string `json:"recommendations"`
}

// APIError - стандартизированный ответ об ошибке
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
