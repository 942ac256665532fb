package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
)

// Compile-time check
var _ ProfileRepository = (*pgProfileRepository)(nil)

const (
	getProfileQuery = `
        SELECT user_id, age, gender, created_at, last_interaction, story_history, preferences, metrics
        FROM user_profiles
        WHERE user_id = $1
    `
	upsertProfileQuery = `
        INSERT INTO user_profiles
            (user_id, age, gender, created_at, last_interaction, story_history, preferences, metrics)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id) DO UPDATE SET
            age = EXCLUDED.age,
            gender = EXCLUDED.gender,
            last_interaction = EXCLUDED.last_interaction,
            story_history = EXCLUDED.story_history,
            preferences = EXCLUDED.preferences,
            metrics = EXCLUDED.metrics
    `
	// Нечисловые user_id (гостевые имена) в максимуме не участвуют
	nextUserIDQuery = `
        SELECT COALESCE(MAX(user_id::bigint), 0) + 1
        FROM user_profiles
        WHERE user_id ~ '^[0-9]+$'
    `
)

// Ключ advisory-блокировки для выдачи числовых user_id
const userIDLockKey = 7001

type pgProfileRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgProfileRepository(pool *pgxpool.Pool, logger *zap.Logger) ProfileRepository {
	return &pgProfileRepository{
		pool:   pool,
		logger: logger.Named("PgProfileRepo"),
	}
}

func (r *pgProfileRepository) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	log := r.logger.With(zap.String("userID", userID))

	var (
		p                                    model.UserProfile
		historyJSON, prefsJSON, metricsJSON []byte
	)
	err := r.pool.QueryRow(ctx, getProfileQuery, userID).Scan(
		&p.UserID, &p.Age, &p.Gender, &p.CreatedAt, &p.LastInteraction,
		&historyJSON, &prefsJSON, &metricsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrProfileNotFound
		}
		log.Error("Failed to get user profile", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", userID, err)
	}

	if err := json.Unmarshal(historyJSON, &p.StoryHistory); err != nil {
		return nil, fmt.Errorf("ошибка разбора story_history профиля %s: %w", userID, err)
	}
	if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
		return nil, fmt.Errorf("ошибка разбора preferences профиля %s: %w", userID, err)
	}
	if err := json.Unmarshal(metricsJSON, &p.Metrics); err != nil {
		return nil, fmt.Errorf("ошибка разбора metrics профиля %s: %w", userID, err)
	}
	return &p, nil
}

func (r *pgProfileRepository) Save(ctx context.Context, profile *model.UserProfile) error {
	log := r.logger.With(zap.String("userID", profile.UserID))

	historyJSON, err := json.Marshal(profile.StoryHistory)
	if err != nil {
		return fmt.Errorf("ошибка сериализации story_history: %w", err)
	}
	prefsJSON, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("ошибка сериализации preferences: %w", err)
	}
	metricsJSON, err := json.Marshal(profile.Metrics)
	if err != nil {
		return fmt.Errorf("ошибка сериализации metrics: %w", err)
	}

	_, err = r.pool.Exec(ctx, upsertProfileQuery,
		profile.UserID, profile.Age, profile.Gender,
		profile.CreatedAt, profile.LastInteraction,
		historyJSON, prefsJSON, metricsJSON,
	)
	if err != nil {
		log.Error("Failed to save user profile", zap.Error(err))
		return fmt.Errorf("ошибка сохранения профиля %s: %w", profile.UserID, err)
	}
	log.Debug("User profile saved")
	return nil
}

// NextUserID выдает max+1 под advisory-блокировкой и в той же
// транзакции резервирует id профилем-заготовкой: следующий MAX уже
// видит эту строку, конкурентные запросы не получают один и тот же
// идентификатор.
func (r *pgProfileRepository) NextUserID(ctx context.Context) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userIDLockKey); err != nil {
		return "", fmt.Errorf("ошибка advisory-блокировки user_id: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx, nextUserIDQuery).Scan(&next); err != nil {
		r.logger.Error("Failed to compute next user id", zap.Error(err))
		return "", fmt.Errorf("ошибка вычисления следующего user_id: %w", err)
	}

	reserved := model.NewUserProfile(strconv.FormatInt(next, 10), time.Now().UTC())
	historyJSON, err := json.Marshal(reserved.StoryHistory)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации story_history: %w", err)
	}
	prefsJSON, err := json.Marshal(reserved.Preferences)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации preferences: %w", err)
	}
	metricsJSON, err := json.Marshal(reserved.Metrics)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации metrics: %w", err)
	}
	_, err = tx.Exec(ctx, upsertProfileQuery,
		reserved.UserID, reserved.Age, reserved.Gender,
		reserved.CreatedAt, reserved.LastInteraction,
		historyJSON, prefsJSON, metricsJSON,
	)
	if err != nil {
		r.logger.Error("Failed to reserve user id", zap.Error(err))
		return "", fmt.Errorf("ошибка резервирования user_id %s: %w", reserved.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return reserved.UserID, nil
}
