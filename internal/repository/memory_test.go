package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller-server/internal/model"
)

func TestMemoryStore_ProfileLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "42")
	assert.ErrorIs(t, err, model.ErrProfileNotFound)

	profile := model.NewUserProfile("42", time.Now().UTC())
	require.NoError(t, store.Save(ctx, profile))

	got, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", got.UserID)
	assert.Equal(t, model.ReadingLevelBeginner, got.Preferences.ReadingLevel)

	// мутация копии не должна протекать в хранилище
	got.Metrics.StoriesCompleted = 99
	again, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Metrics.StoriesCompleted)
}

func TestMemoryStore_NextUserID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.NextUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	// выданный id зарезервирован профилем-заготовкой,
	// повторная выдача его не возвращает
	_, err = store.Get(ctx, "1")
	require.NoError(t, err)
	id, err = store.NextUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	require.NoError(t, store.Save(ctx, model.NewUserProfile("7", time.Now())))
	require.NoError(t, store.Save(ctx, model.NewUserProfile("guest-abc", time.Now())))

	id, err = store.NextUserID(ctx)
	require.NoError(t, err)
	// нечисловые идентификаторы игнорируются
	assert.Equal(t, "8", id)
}

// Конкурентная выдача не должна порождать дубликаты user_id.
func TestMemoryStore_ConcurrentNextUserID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 32
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.NextUserID(ctx)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate user id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryStore_ConversationOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Add(ctx, "1", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	second, err := store.Add(ctx, "1", []model.Message{{Role: model.RoleUser, Content: "tell me a story"}})
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	_, err = store.AppendMessage(ctx, second.ID, model.Message{
		Role:    model.RoleAgent,
		Content: "Once upon a time...",
		Status:  model.StatusSuccess,
	})
	require.NoError(t, err)

	last, err := store.Last(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	require.NotNil(t, last.LastAgentMessage())
	assert.Equal(t, model.StatusSuccess, last.LastAgentMessage().Status)

	all, err := store.ListByUser(ctx, "1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
}

// Конкурентные вставки не должны порождать дубликаты ID.
func TestMemoryStore_ConcurrentAddUniqueIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 64
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := store.Add(ctx, "1", nil)
			assert.NoError(t, err)
			ids <- conv.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate conversation id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryStore_EvaluationsOrdered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	storyID, err := store.AddStory(ctx, &model.Story{Prompt: "p", Story: "s"})
	require.NoError(t, err)
	usID, err := store.AddUserStory(ctx, &model.UserStory{UserID: "1", StoryID: storyID, Intent: model.IntentNewStory})
	require.NoError(t, err)

	for score := 4; score <= 8; score += 2 {
		_, err = store.AddEvaluation(ctx, &model.Evaluation{UserStoryID: usID, Score: score, IsAppropriate: true})
		require.NoError(t, err)
	}

	evals, err := store.ListEvaluations(ctx, usID)
	require.NoError(t, err)
	require.Len(t, evals, 3)
	// последняя по порядку - авторитетная
	assert.Equal(t, 8, evals[len(evals)-1].Score)
}
