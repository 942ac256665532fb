package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/internal/service/mocks"
)

// Обрезка заголовка и пересказа идет по рунам: срез по байтам резал
// бы кириллицу посередине символа
func TestStoryTitleAndSummaryTruncation(t *testing.T) {
	prompt := strings.Repeat("сказка про дракона ", 8)
	title := storyTitle(prompt)
	assert.True(t, utf8.ValidString(title))
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.Equal(t, 63, utf8.RuneCountInString(title))

	story := strings.Repeat("Жил-был храбрый ёжик. ", 20)
	summary := storySummary(story)
	assert.True(t, utf8.ValidString(summary))
	assert.Equal(t, 153, utf8.RuneCountInString(summary))

	// короткие строки не трогаем
	assert.Equal(t, "a fox story", storyTitle("  a fox story  "))
}

func TestProfiler_RecordStoryInteractionKeepsValidUTF8(t *testing.T) {
	client := new(mocks.AIClient)
	store := repository.NewMemoryStore()
	profiler := NewProfiler(client, store, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, model.NewUserProfile("1", time.Now().UTC())))

	prompt := strings.Repeat("история про самолётик ", 6)
	story := strings.Repeat("Однажды маленький самолётик полетел далеко-далеко. ", 10)
	profiler.RecordStoryInteraction(ctx, "1", prompt, story)

	profile, err := store.Get(ctx, "1")
	require.NoError(t, err)
	require.Len(t, profile.StoryHistory, 1)
	entry := profile.StoryHistory[0]
	assert.True(t, utf8.ValidString(entry.Title))
	assert.True(t, utf8.ValidString(entry.Summary))
	assert.Equal(t, 1, profile.Metrics.StoriesCompleted)
}
