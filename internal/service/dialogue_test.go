package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/service/mocks"
	"storyteller-server/pkg/ai"
)

func TestDialogueManager_ContinueWithoutSession(t *testing.T) {
	dm := NewDialogueManager(new(mocks.AIClient), zap.NewNop())

	_, _, err := dm.ContinueStory(context.Background(), "1", "go left")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	// запрос чужого пользователя не оставляет пустую сессию в карте
	dm.mu.Lock()
	assert.Empty(t, dm.sessions)
	dm.mu.Unlock()
}

func TestDialogueManager_ResetEndsSession(t *testing.T) {
	dm := NewDialogueManager(new(mocks.AIClient), zap.NewNop())
	dm.StartSession("1", "Opening scene.", nil)

	dm.Reset("1")

	_, _, err := dm.ContinueStory(context.Background(), "1", "keep going")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
	// повторный сброс безопасен
	dm.Reset("1")
}

func TestDialogueManager_ContinueAdvancesSession(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(continueSystemPrompt), mock.Anything, mock.Anything).
		Return("The fox crept into the cave.\n\nInside, something glittered.", ai.UsageInfo{}, nil).Once()
	client.On("GenerateText", mock.Anything, matchSystemPrompt(choicesSystemPrompt), mock.Anything, mock.Anything).
		Return("1. Pick up the glittering stone\n2. Call out hello\n3. Tiptoe back outside", ai.UsageInfo{}, nil).Once()

	dm := NewDialogueManager(client, zap.NewNop())
	dm.StartSession("1", "A fox stood before a dark cave.", []string{"Felix the fox"})

	scene, choices, err := dm.ContinueStory(context.Background(), "1", "go inside")
	require.NoError(t, err)
	assert.Contains(t, scene, "crept into the cave")
	assert.Equal(t, []string{
		"Pick up the glittering stone",
		"Call out hello",
		"Tiptoe back outside",
	}, choices)
}

func TestDialogueManager_ChoicesFailureIsNotFatal(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(continueSystemPrompt), mock.Anything, mock.Anything).
		Return("The story goes on.", ai.UsageInfo{}, nil).Once()
	client.On("GenerateText", mock.Anything, matchSystemPrompt(choicesSystemPrompt), mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, assert.AnError).Once()

	dm := NewDialogueManager(client, zap.NewNop())
	dm.StartSession("1", "Opening scene.", nil)

	scene, choices, err := dm.ContinueStory(context.Background(), "1", "keep going")
	require.NoError(t, err)
	assert.NotEmpty(t, scene)
	assert.Empty(t, choices)
}

func TestDialogueManager_SummaryRequiresSession(t *testing.T) {
	dm := NewDialogueManager(new(mocks.AIClient), zap.NewNop())
	_, err := dm.Summary(context.Background(), "nobody")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestParseNumberedLines(t *testing.T) {
	t.Run("numbered with dots", func(t *testing.T) {
		got := parseNumberedLines("1. First\n2. Second\n3. Third\n4. Fourth", 3)
		assert.Equal(t, []string{"First", "Second", "Third"}, got)
	})
	t.Run("dashes and parens", func(t *testing.T) {
		got := parseNumberedLines("- Alpha\n2) Beta", 5)
		assert.Equal(t, []string{"Alpha", "Beta"}, got)
	})
	t.Run("ignores prose lines", func(t *testing.T) {
		got := parseNumberedLines("Here are your options:\n1. Only one", 3)
		assert.Equal(t, []string{"Only one"}, got)
	})
	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, parseNumberedLines("", 3))
	})
}
