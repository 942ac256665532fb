package repository

import (
	"context"

	"storyteller-server/internal/model"
)

// ProfileRepository - хранилище профилей пользователей.
// Ключ - user_id, ровно один профиль на пользователя.
type ProfileRepository interface {
	// Get возвращает профиль или model.ErrProfileNotFound
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
	// Save создает или обновляет профиль целиком
	Save(ctx context.Context, profile *model.UserProfile) error
	// NextUserID выдает следующий числовой идентификатор (max+1)
	NextUserID(ctx context.Context) (string, error)
}

// ConversationRepository - журнал диалогов, append-only.
// ID выдаются как max(existing)+1, записи упорядочены хронологически.
type ConversationRepository interface {
	Add(ctx context.Context, userID string, messages []model.Message) (*model.Conversation, error)
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Conversation, error)
	// Last возвращает самый свежий диалог пользователя по last_updated
	// или model.ErrConversationNotFound
	Last(ctx context.Context, userID string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, id int64, msg model.Message) (*model.Conversation, error)
	// Delete существует, но базовым циклом не используется
	Delete(ctx context.Context, id int64) error
}

// StoryRepository - хранилище историй, связей пользователь-история,
// оценок и журнала фидбека.
type StoryRepository interface {
	AddStory(ctx context.Context, story *model.Story) (int64, error)
	GetStory(ctx context.Context, id int64) (*model.Story, error)
	AddUserStory(ctx context.Context, link *model.UserStory) (int64, error)
	// LastUserStory возвращает самую свежую связь пользователя
	// или model.ErrStoryNotFound
	LastUserStory(ctx context.Context, userID string) (*model.UserStory, error)
	AddEvaluation(ctx context.Context, eval *model.Evaluation) (int64, error)
	// ListEvaluations возвращает оценки по связи пользователь-история
	// в хронологическом порядке (последняя - авторитетная)
	ListEvaluations(ctx context.Context, userStoryID int64) ([]model.Evaluation, error)
	AddFeedback(ctx context.Context, entry *model.FeedbackLogEntry) (int64, error)
}
