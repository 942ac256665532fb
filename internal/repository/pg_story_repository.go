package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
)

// Compile-time check
var _ StoryRepository = (*pgStoryRepository)(nil)

// Ключи advisory-блокировок для выдачи id по таблицам
const (
	storyIDLockKey      = 7003
	userStoryIDLockKey  = 7004
	evaluationIDLockKey = 7005
	feedbackIDLockKey   = 7006
)

const (
	insertStoryQuery = `
        INSERT INTO stories (id, prompt, story, timestamp, metadata)
        VALUES ($1, $2, $3, $4, $5)
    `
	getStoryQuery = `
        SELECT id, prompt, story, timestamp, metadata
        FROM stories
        WHERE id = $1
    `
	insertUserStoryQuery = `
        INSERT INTO user_stories (id, user_id, story_id, prompt, intent, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	lastUserStoryQuery = `
        SELECT id, user_id, story_id, prompt, intent, timestamp
        FROM user_stories
        WHERE user_id = $1
        ORDER BY id DESC
        LIMIT 1
    `
	insertEvaluationQuery = `
        INSERT INTO story_evaluations
            (id, user_story_id, score, is_appropriate, reason, feedback, full_evaluation, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	listEvaluationsQuery = `
        SELECT id, user_story_id, score, is_appropriate, reason, feedback, full_evaluation, timestamp
        FROM story_evaluations
        WHERE user_story_id = $1
        ORDER BY id
    `
	insertFeedbackQuery = `
        INSERT INTO feedback_log (id, story_evaluation_id, feedback_message, timestamp)
        VALUES ($1, $2, $3, $4)
    `
)

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

// nextTableID вычисляет max+1 для таблицы под advisory-блокировкой.
// Вызывается только внутри открытой транзакции.
func nextTableID(ctx context.Context, tx pgx.Tx, table string, lockKey int64) (int64, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return 0, fmt.Errorf("ошибка advisory-блокировки %s: %w", table, err)
	}
	var next int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) + 1 FROM %s`, table)
	if err := tx.QueryRow(ctx, query).Scan(&next); err != nil {
		return 0, fmt.Errorf("ошибка вычисления id для %s: %w", table, err)
	}
	return next, nil
}

func (r *pgStoryRepository) AddStory(ctx context.Context, story *model.Story) (int64, error) {
	metadataJSON, err := json.Marshal(story.Metadata)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := nextTableID(ctx, tx, "stories", storyIDLockKey)
	if err != nil {
		return 0, err
	}

	ts := story.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, insertStoryQuery, id, story.Prompt, story.Story, ts, metadataJSON); err != nil {
		r.logger.Error("Failed to insert story", zap.Error(err))
		return 0, fmt.Errorf("ошибка сохранения истории: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return id, nil
}

func (r *pgStoryRepository) GetStory(ctx context.Context, id int64) (*model.Story, error) {
	var (
		story        model.Story
		metadataJSON []byte
	)
	err := r.pool.QueryRow(ctx, getStoryQuery, id).Scan(
		&story.ID, &story.Prompt, &story.Story, &story.Timestamp, &metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения истории %d: %w", id, err)
	}
	if err := json.Unmarshal(metadataJSON, &story.Metadata); err != nil {
		return nil, fmt.Errorf("ошибка разбора metadata истории %d: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) AddUserStory(ctx context.Context, link *model.UserStory) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := nextTableID(ctx, tx, "user_stories", userStoryIDLockKey)
	if err != nil {
		return 0, err
	}

	ts := link.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, insertUserStoryQuery, id, link.UserID, link.StoryID, link.Prompt, link.Intent, ts); err != nil {
		r.logger.Error("Failed to insert user story", zap.Error(err))
		return 0, fmt.Errorf("ошибка сохранения связи пользователь-история: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return id, nil
}

func (r *pgStoryRepository) LastUserStory(ctx context.Context, userID string) (*model.UserStory, error) {
	var link model.UserStory
	err := r.pool.QueryRow(ctx, lastUserStoryQuery, userID).Scan(
		&link.ID, &link.UserID, &link.StoryID, &link.Prompt, &link.Intent, &link.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrStoryNotFound
		}
		r.logger.Error("Failed to get last user story", zap.String("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения последней истории пользователя %s: %w", userID, err)
	}
	return &link, nil
}

func (r *pgStoryRepository) AddEvaluation(ctx context.Context, eval *model.Evaluation) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := nextTableID(ctx, tx, "story_evaluations", evaluationIDLockKey)
	if err != nil {
		return 0, err
	}

	ts := eval.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, insertEvaluationQuery,
		id, eval.UserStoryID, eval.Score, eval.IsAppropriate,
		eval.Reason, eval.Feedback, eval.FullEvaluation, ts,
	); err != nil {
		r.logger.Error("Failed to insert evaluation", zap.Error(err))
		return 0, fmt.Errorf("ошибка сохранения оценки: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return id, nil
}

func (r *pgStoryRepository) ListEvaluations(ctx context.Context, userStoryID int64) ([]model.Evaluation, error) {
	var evals []model.Evaluation
	if err := pgxscan.Select(ctx, r.pool, &evals, listEvaluationsQuery, userStoryID); err != nil {
		r.logger.Error("Failed to list evaluations", zap.Int64("userStoryID", userStoryID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения оценок для %d: %w", userStoryID, err)
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	return evals, nil
}

func (r *pgStoryRepository) AddFeedback(ctx context.Context, entry *model.FeedbackLogEntry) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := nextTableID(ctx, tx, "feedback_log", feedbackIDLockKey)
	if err != nil {
		return 0, err
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, insertFeedbackQuery, id, entry.EvaluationID, entry.Message, ts); err != nil {
		r.logger.Error("Failed to insert feedback log entry", zap.Error(err))
		return 0, fmt.Errorf("ошибка сохранения фидбека: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return id, nil
}
