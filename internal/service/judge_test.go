package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/repository"
	"storyteller-server/internal/service/mocks"
	"storyteller-server/pkg/ai"
)

func matchSystemPrompt(want string) interface{} {
	return mock.MatchedBy(func(got string) bool { return got == want })
}

func TestJudge_TwoPassEvaluation(t *testing.T) {
	client := new(mocks.AIClient)
	store := repository.NewMemoryStore()

	rubricText := "1. Correlation: strong.\n...\nPotential improvements:\n- tighten the middle"
	client.On("GenerateText", mock.Anything, matchSystemPrompt(rubricSystemPrompt), mock.Anything, mock.Anything).
		Return(rubricText, ai.UsageInfo{}, nil)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(scoringSystemPrompt), mock.Anything, mock.Anything).
		Return("is_appropriate: YES\nreason: well matched to the request\nscore: 8/10", ai.UsageInfo{}, nil)

	judge := NewJudge(client, store, zap.NewNop())
	eval := judge.Evaluate(context.Background(), "Once upon a time...", "a dragon story", model.StoryElements{}, 1)

	assert.Equal(t, 8, eval.Score)
	assert.True(t, eval.IsAppropriate)
	assert.Equal(t, "well matched to the request", eval.Reason)
	assert.Equal(t, "- tighten the middle", eval.Feedback)
	assert.Equal(t, rubricText, eval.FullEvaluation)
	// оценка сохранена
	require.NotZero(t, eval.ID)
	evals, err := store.ListEvaluations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, evals, 1)
}

func TestJudge_ScoringGatewayFailure(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(rubricSystemPrompt), mock.Anything, mock.Anything).
		Return("A fine review.", ai.UsageInfo{}, nil)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(scoringSystemPrompt), mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("quota exceeded"))

	judge := NewJudge(client, repository.NewMemoryStore(), zap.NewNop())
	eval := judge.Evaluate(context.Background(), "story", "prompt", model.StoryElements{}, 1)

	// сентинел ERROR: оценка 0, неуместно, но цикл не падает
	assert.Equal(t, 0, eval.Score)
	assert.False(t, eval.IsAppropriate)
}

func TestJudge_RubricGatewayFailureSkipsScoring(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(rubricSystemPrompt), mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("unreachable"))

	judge := NewJudge(client, repository.NewMemoryStore(), zap.NewNop())
	eval := judge.Evaluate(context.Background(), "story", "prompt", model.StoryElements{}, 1)

	assert.Equal(t, 0, eval.Score)
	assert.False(t, eval.IsAppropriate)
	// скоринг-проход не вызывался
	client.AssertNumberOfCalls(t, "GenerateText", 1)
}

func TestJudge_UnparseableVerdictDefaultsToFive(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(rubricSystemPrompt), mock.Anything, mock.Anything).
		Return("A review without a suggestions section.", ai.UsageInfo{}, nil)
	client.On("GenerateText", mock.Anything, matchSystemPrompt(scoringSystemPrompt), mock.Anything, mock.Anything).
		Return("The story is lovely, I give it top marks!", ai.UsageInfo{}, nil)

	judge := NewJudge(client, repository.NewMemoryStore(), zap.NewNop())
	eval := judge.Evaluate(context.Background(), "story", "prompt", model.StoryElements{}, 1)

	// мягкий дефолт, не 0
	assert.Equal(t, 5, eval.Score)
	assert.Equal(t, noSuggestionsFeedback, eval.Feedback)
}

func TestExtractFeedback_Markers(t *testing.T) {
	assert.Equal(t, "- shorten it", extractFeedback("Review.\nPotential improvements:\n- shorten it"))
	assert.Equal(t, "- add a moral", extractFeedback("Review.\nSuggestions for Improvement:\n- add a moral"))
	assert.Equal(t, noSuggestionsFeedback, extractFeedback("Review with no marker."))
}
