package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
)

// Compile-time check
var _ ConversationRepository = (*pgConversationRepository)(nil)

const (
	// Ключ advisory-блокировки для выдачи id диалогов
	conversationIDLockKey = 7002

	insertConversationQuery = `
        INSERT INTO conversations (id, user_id, timestamp, messages, last_updated)
        VALUES ($1, $2, $3, $4, $5)
    `
	getConversationQuery = `
        SELECT id, user_id, timestamp, messages, last_updated
        FROM conversations
        WHERE id = $1
    `
	listConversationsQuery = `
        SELECT id, user_id, timestamp, messages, last_updated
        FROM conversations
        WHERE user_id = $1
        ORDER BY id
    `
	lastConversationQuery = `
        SELECT id, user_id, timestamp, messages, last_updated
        FROM conversations
        WHERE user_id = $1
        ORDER BY last_updated DESC, id DESC
        LIMIT 1
    `
	updateMessagesQuery = `
        UPDATE conversations SET messages = $1, last_updated = $2 WHERE id = $3
    `
	deleteConversationQuery = `DELETE FROM conversations WHERE id = $1`
)

type pgConversationRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgConversationRepository(pool *pgxpool.Pool, logger *zap.Logger) ConversationRepository {
	return &pgConversationRepository{
		pool:   pool,
		logger: logger.Named("PgConversationRepo"),
	}
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv         model.Conversation
		messagesJSON []byte
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Timestamp, &messagesJSON, &conv.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messagesJSON, &conv.Messages); err != nil {
		return nil, fmt.Errorf("ошибка разбора messages диалога %d: %w", conv.ID, err)
	}
	return &conv, nil
}

// Add выдает id = max+1 под advisory-блокировкой и вставляет диалог
// одной транзакцией, так что конкурентные вставки сериализуются.
func (r *pgConversationRepository) Add(ctx context.Context, userID string, messages []model.Message) (*model.Conversation, error) {
	log := r.logger.With(zap.String("userID", userID))

	if messages == nil {
		messages = []model.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации messages: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, conversationIDLockKey); err != nil {
		return nil, fmt.Errorf("ошибка advisory-блокировки conversations: %w", err)
	}

	var nextID int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM conversations`).Scan(&nextID); err != nil {
		return nil, fmt.Errorf("ошибка вычисления id диалога: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, insertConversationQuery, nextID, userID, now, messagesJSON, now); err != nil {
		log.Error("Failed to insert conversation", zap.Error(err))
		return nil, fmt.Errorf("ошибка создания диалога: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}

	return &model.Conversation{
		ID:          nextID,
		UserID:      userID,
		Timestamp:   now,
		Messages:    messages,
		LastUpdated: now,
	}, nil
}

func (r *pgConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, getConversationQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrConversationNotFound
		}
		r.logger.Error("Failed to get conversation", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения диалога %d: %w", id, err)
	}
	return conv, nil
}

func (r *pgConversationRepository) ListByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := r.pool.Query(ctx, listConversationsQuery, userID)
	if err != nil {
		r.logger.Error("Failed to list conversations", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения диалогов пользователя %s: %w", userID, err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения диалога: %w", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка после чтения диалогов: %w", err)
	}
	return out, nil
}

func (r *pgConversationRepository) Last(ctx context.Context, userID string) (*model.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, lastConversationQuery, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrConversationNotFound
		}
		r.logger.Error("Failed to get last conversation", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения последнего диалога %s: %w", userID, err)
	}
	return conv, nil
}

// AppendMessage дописывает сообщение внутри транзакции с блокировкой
// строки, чтобы конкурентные дописывания не теряли сообщений.
func (r *pgConversationRepository) AppendMessage(ctx context.Context, id int64, msg model.Message) (*model.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := scanConversation(tx.QueryRow(ctx, getConversationQuery+` FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrConversationNotFound
		}
		return nil, fmt.Errorf("ошибка получения диалога %d: %w", id, err)
	}

	conv.Messages = append(conv.Messages, msg)
	conv.LastUpdated = time.Now().UTC()

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации messages: %w", err)
	}
	if _, err := tx.Exec(ctx, updateMessagesQuery, messagesJSON, conv.LastUpdated, id); err != nil {
		r.logger.Error("Failed to append message", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка дописывания сообщения в диалог %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return conv, nil
}

func (r *pgConversationRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteConversationQuery, id)
	if err != nil {
		r.logger.Error("Failed to delete conversation", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("ошибка удаления диалога %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConversationNotFound
	}
	return nil
}
