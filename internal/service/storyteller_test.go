package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/internal/service/mocks"
	"storyteller-server/pkg/ai"
)

func newTestStoryteller(client ai.Client, store *repository.MemoryStore) *Storyteller {
	logger := zap.NewNop()
	profiler := NewProfiler(client, store, logger)
	return NewStoryteller(client, store, profiler, logger)
}

func TestStoryteller_GenerateAndPersist(t *testing.T) {
	client := new(mocks.AIClient)
	store := repository.NewMemoryStore()
	client.On("GenerateText", mock.Anything, matchSystemPrompt(storytellerSystemPrompt), mock.Anything, mock.Anything).
		Return("Once upon a time, a fox learned that honesty matters. The end.", ai.UsageInfo{}, nil).Once()

	teller := newTestStoryteller(client, store)
	gen := teller.Generate(context.Background(), "a fox story", "1",
		model.StoryElements{Setting: "a forest"}, model.IntentNewStory, "", "")

	require.NoError(t, gen.Err)
	assert.NotEmpty(t, gen.Story)
	require.NotZero(t, gen.StoryID)
	require.NotZero(t, gen.UserStoryID)

	stored, err := store.GetStory(context.Background(), gen.StoryID)
	require.NoError(t, err)
	assert.Equal(t, gen.Story, stored.Story)
	// мораль извлечена по фразе-индикатору
	assert.Contains(t, stored.Metadata.Moral, "learned that honesty matters")

	link, err := store.LastUserStory(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, gen.StoryID, link.StoryID)
	assert.Equal(t, model.IntentNewStory, link.Intent)
}

func TestStoryteller_GatewayFailureReturnsApology(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("unreachable"))

	teller := newTestStoryteller(client, repository.NewMemoryStore())
	gen := teller.Generate(context.Background(), "a story", "1",
		model.StoryElements{}, model.IntentNewStory, "", "")

	assert.Equal(t, apologyStory, gen.Story)
	assert.ErrorIs(t, gen.Err, ErrGenerationFailed)
	assert.Zero(t, gen.StoryID)
}

// Персонализация дописывается после сборки промпта по намерению
func TestStoryteller_PersonalizationAfterAssembly(t *testing.T) {
	client := new(mocks.AIClient)
	store := repository.NewMemoryStore()

	profile := model.NewUserProfile("1", time.Now().UTC())
	age := 6
	profile.Age = &age
	profile.Preferences.FavoriteThemes = []string{"dinosaurs"}
	require.NoError(t, store.Save(context.Background(), profile))

	var sentPrompt string
	client.On("GenerateText", mock.Anything, matchSystemPrompt(storytellerSystemPrompt), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sentPrompt = args.String(2) }).
		Return("A story.", ai.UsageInfo{}, nil).Once()

	teller := newTestStoryteller(client, store)
	teller.Generate(context.Background(), "a dino story", "1",
		model.StoryElements{Setting: "a jungle"}, model.IntentNewStory, "", "")

	assemblyIdx := strings.Index(sentPrompt, "Setting: a jungle")
	profileIdx := strings.Index(sentPrompt, "About the listener:")
	require.NotEqual(t, -1, assemblyIdx)
	require.NotEqual(t, -1, profileIdx)
	assert.Greater(t, profileIdx, assemblyIdx)
	assert.Contains(t, sentPrompt, "dinosaurs")
}

// change_story без предыдущей истории деградирует до новой
func TestStoryteller_ChangeStoryWithoutPrevious(t *testing.T) {
	client := new(mocks.AIClient)
	var sentPrompt string
	client.On("GenerateText", mock.Anything, matchSystemPrompt(storytellerSystemPrompt), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sentPrompt = args.String(2) }).
		Return("A fresh story.", ai.UsageInfo{}, nil).Once()

	teller := newTestStoryteller(client, repository.NewMemoryStore())
	gen := teller.Generate(context.Background(), "change the story", "1",
		model.StoryElements{Setting: "the moon"}, model.IntentChangeStory, "", "")

	require.NoError(t, gen.Err)
	assert.Contains(t, sentPrompt, "no longer available")
}

func TestStoryteller_UpdateStoryKeepsPrevious(t *testing.T) {
	client := new(mocks.AIClient)
	var sentPrompt string
	client.On("GenerateText", mock.Anything, matchSystemPrompt(storytellerSystemPrompt), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sentPrompt = args.String(2) }).
		Return("An edited story.", ai.UsageInfo{}, nil).Once()

	teller := newTestStoryteller(client, repository.NewMemoryStore())
	teller.Generate(context.Background(), "make it shorter", "1",
		model.StoryElements{}, model.IntentUpdateStory, "", "The long original story.")

	assert.Contains(t, sentPrompt, "The long original story.")
	assert.Contains(t, sentPrompt, "minimal, targeted edit")
}

func TestComputeMetadata(t *testing.T) {
	story := "The friends went on a journey together. They learned that helping friends matters."
	md := computeMetadata(story)

	assert.Equal(t, len(story), md.Length)
	assert.Greater(t, md.Complexity, 0.0)
	assert.Equal(t, "friendship", md.Theme)
	assert.Contains(t, md.Moral, "learned that helping friends matters")
}

func TestComputeMetadata_NoSignals(t *testing.T) {
	md := computeMetadata("A plain tale.")
	assert.Equal(t, "general", md.Theme)
	assert.Equal(t, "No explicit moral found", md.Moral)
}
