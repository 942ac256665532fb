package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/internal/service"
)

// StoryHandler обрабатывает HTTP-запросы сервиса историй
type StoryHandler struct {
	orchestrator  *service.Orchestrator
	dialogue      *service.DialogueManager
	profiler      *service.Profiler
	conversations repository.ConversationRepository
	logger        *zap.Logger

	// RequestDeadline ограничивает весь запрос, включая цикл
	// регенерации: по истечении возвращается лучший найденный драфт
	requestDeadline time.Duration
}

func NewStoryHandler(
	orchestrator *service.Orchestrator,
	dialogue *service.DialogueManager,
	profiler *service.Profiler,
	conversations repository.ConversationRepository,
	requestDeadline time.Duration,
	logger *zap.Logger,
) *StoryHandler {
	return &StoryHandler{
		orchestrator:    orchestrator,
		dialogue:        dialogue,
		profiler:        profiler,
		conversations:   conversations,
		requestDeadline: requestDeadline,
		logger:          logger.Named("StoryHandler"),
	}
}

// PostStory - POST /api/story
func (h *StoryHandler) PostStory(c *gin.Context) {
	var req StoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: "invalid request body"})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, APIError{Error: "prompt is required"})
		return
	}

	ctx := c.Request.Context()
	if h.requestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestDeadline)
		defer cancel()
	}

	result, err := h.orchestrator.HandleStoryRequest(ctx, req.UserID, req.Prompt)
	if err != nil {
		h.logger.Error("Story request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{
			Error:   "internal server error",
			Message: "Something went wrong while handling your story request.",
		})
		return
	}

	resp := StoryResponse{
		Status:  string(result.Status),
		Message: result.Message,
		UserID:  result.UserID,
		Intent:  result.Intent,
	}
	if result.Status == model.StatusSuccess {
		if result.Story == "" {
			// генератор обязан вернуть хотя бы извинение
			h.logger.Error("Success result carries no story")
			c.JSON(http.StatusInternalServerError, APIError{
				Error: "internal server error",
			})
			return
		}
		resp.Story = &result.Story
		resp.Metadata = result.Metadata
		// принятая история открывает интерактивную сессию
		h.dialogue.StartSession(result.UserID, result.Story, nil)
	}
	c.JSON(http.StatusOK, resp)
}

// PostContinue - POST /api/story/continue
func (h *StoryHandler) PostContinue(c *gin.Context) {
	var req ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: "invalid request body"})
		return
	}
	if req.UserID == "" || req.Input == "" {
		c.JSON(http.StatusBadRequest, APIError{Error: "user_id and input are required"})
		return
	}

	scene, choices, err := h.dialogue.ContinueStory(c.Request.Context(), req.UserID, req.Input)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, APIError{Error: "no active story session"})
			return
		}
		h.logger.Error("Interactive continuation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
		return
	}
	if choices == nil {
		choices = []string{}
	}
	c.JSON(http.StatusOK, ContinueResponse{Scene: scene, Choices: choices})
}

// GetSummary - GET /api/story/summary?user_id=...
func (h *StoryHandler) GetSummary(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, APIError{Error: "user_id is required"})
		return
	}

	summary, err := h.dialogue.Summary(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, APIError{Error: "no active story session"})
			return
		}
		h.logger.Error("Session summary failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

// DeleteSession - DELETE /api/story/session?user_id=...
func (h *StoryHandler) DeleteSession(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, APIError{Error: "user_id is required"})
		return
	}
	h.dialogue.Reset(userID)
	c.Status(http.StatusNoContent)
}

// GetRecommendations - GET /api/users/:user_id/recommendations?count=N
func (h *StoryHandler) GetRecommendations(c *gin.Context) {
	userID := c.Param("user_id")
	count := 3
	if raw := c.Query("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}

	ideas, err := h.profiler.Recommendations(c.Request.Context(), userID, count)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, APIError{Error: "user profile not found"})
			return
		}
		h.logger.Error("Recommendations failed", zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, RecommendationsResponse{UserID: userID, Recommendations: ideas})
}

// GetConversations - GET /api/users/:user_id/conversations
func (h *StoryHandler) GetConversations(c *gin.Context) {
	userID := c.Param("user_id")
	conversations, err := h.conversations.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Conversation listing failed", zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "conversations": conversations})
}

// DeleteConversation - DELETE /api/conversations/:id
func (h *StoryHandler) DeleteConversation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: "invalid conversation id"})
		return
	}
	if err := h.conversations.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, model.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, APIError{Error: "conversation not found"})
			return
		}
		h.logger.Error("Conversation deletion failed", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}
