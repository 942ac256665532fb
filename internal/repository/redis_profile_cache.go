package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
)

// Compile-time check
var _ ProfileRepository = (*cachedProfileRepository)(nil)

const profileCacheKeyPrefix = "storyteller:profile:"

// cachedProfileRepository - read-through кэш профилей поверх основного
// репозитория. Профиль читается на каждом запросе, поэтому кэшируем;
// на Save ключ инвалидируется, а не перезаписывается, чтобы не держать
// в кэше версию, разошедшуюся с БД при ошибке записи.
type cachedProfileRepository struct {
	next   ProfileRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProfileRepository(next ProfileRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) ProfileRepository {
	return &cachedProfileRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.Named("ProfileCache"),
	}
}

func profileCacheKey(userID string) string {
	return profileCacheKeyPrefix + userID
}

func (r *cachedProfileRepository) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	key := profileCacheKey(userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var p model.UserProfile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		// битая запись в кэше - читаем из БД и перезапишем
		r.logger.Warn("Corrupted profile cache entry", zap.String("userID", userID))
	} else if !errors.Is(err, redis.Nil) {
		// Redis недоступен - деградируем до прямого чтения
		r.logger.Warn("Profile cache read failed", zap.String("userID", userID), zap.Error(err))
	}

	p, err := r.next.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("Profile cache write failed", zap.String("userID", userID), zap.Error(err))
		}
	}
	return p, nil
}

func (r *cachedProfileRepository) Save(ctx context.Context, profile *model.UserProfile) error {
	if err := r.next.Save(ctx, profile); err != nil {
		return err
	}
	// запись в БД уже прошла, недоступный Redis не должен ронять запрос:
	// протухший ключ добьет TTL
	if err := r.client.Del(ctx, profileCacheKey(profile.UserID)).Err(); err != nil {
		r.logger.Warn("Profile cache invalidation failed", zap.String("userID", profile.UserID), zap.Error(err))
	}
	return nil
}

func (r *cachedProfileRepository) NextUserID(ctx context.Context) (string, error) {
	return r.next.NextUserID(ctx)
}
