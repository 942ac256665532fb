package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"storyteller-server/internal/model"
	"storyteller-server/internal/service/mocks"
	"storyteller-server/pkg/ai"
)

func TestIntentAnalyzer_KeywordGate(t *testing.T) {
	client := new(mocks.AIClient)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "hello, how are you", "1", ClassificationContext{})

	assert.Equal(t, model.IntentNonStory, result.Intent)
	assert.Equal(t, model.ActionStop, result.Action)
	// шлюз не должен вызываться вовсе
	client.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIntentAnalyzer_GatewayFailure(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("connection refused"))
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "tell me a story", "1", ClassificationContext{})

	assert.Equal(t, model.IntentError, result.Intent)
	assert.Equal(t, model.ActionStop, result.Action)
	assert.NotEmpty(t, result.Message)
}

func TestIntentAnalyzer_UnparseableResponse(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("I cannot answer in JSON, sorry", ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "tell me a story", "1", ClassificationContext{})

	assert.Equal(t, model.IntentError, result.Intent)
	assert.Equal(t, model.ActionStop, result.Action)
}

func TestIntentAnalyzer_NewStoryWithEssentials(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("```json\n{\"intent_type\": \"new_story\", \"introduction_context\": \"a gentle bedtime tone\", \"story_elements\": {\"characters\": [{\"name\": \"Luna\", \"description\": \"a brave unicorn\"}], \"setting\": \"an enchanted forest\"}}\n```", ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "tell me a story about unicorns", "1", ClassificationContext{})

	assert.Equal(t, model.IntentNewStory, result.Intent)
	assert.Equal(t, model.ActionContinue, result.Action)
	assert.Equal(t, "a gentle bedtime tone", result.Context)
	assert.Equal(t, "Luna", result.Elements.Characters[0].Name)
	assert.Equal(t, "an enchanted forest", result.Elements.Setting)
}

func TestIntentAnalyzer_NewStoryWithoutEssentials(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"intent_type": "new_story", "story_elements": {"tone": "funny"}}`, ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "tell me a funny story", "1", ClassificationContext{})

	// тон есть, но ни персонажей, ни сеттинга, ни идеи сюжета
	assert.Equal(t, model.ActionRequestMoreInfo, result.Action)
	assert.NotEmpty(t, result.Message)
}

func TestIntentAnalyzer_UpdateStoryAlwaysContinues(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"intent_type": "update_story", "story_elements": {}}`, ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	result := analyzer.Classify(context.Background(), "make the story shorter", "1", ClassificationContext{})

	assert.Equal(t, model.IntentUpdateStory, result.Intent)
	assert.Equal(t, model.ActionContinue, result.Action)
}

func TestIntentAnalyzer_NonStoryUsesModelExplanation(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"intent_type": "non_story", "error_message": "I only tell stories."}`, ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	// доменное слово есть, но модель распознала не-историю
	result := analyzer.Classify(context.Background(), "what is the longest story ever told", "1", ClassificationContext{})

	assert.Equal(t, model.IntentNonStory, result.Intent)
	assert.Equal(t, model.ActionStop, result.Action)
	assert.Equal(t, "I only tell stories.", result.Message)
}

func TestIntentAnalyzer_RefineElementsKeepsCurrentOnFailure(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("timeout"))
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	current := model.StoryElements{Setting: "a castle"}
	eval := &model.Evaluation{Score: 4, Reason: "weak ending"}
	updated := analyzer.RefineElements(context.Background(), "a story", current, eval, "fix the ending")

	assert.Equal(t, current, updated)
}

func TestIntentAnalyzer_RefineElementsMerges(t *testing.T) {
	client := new(mocks.AIClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"conflict": "the dragon guards the bridge"}`, ai.UsageInfo{}, nil)
	analyzer := NewIntentAnalyzer(client, zap.NewNop())

	current := model.StoryElements{Setting: "a castle"}
	eval := &model.Evaluation{Score: 4}
	updated := analyzer.RefineElements(context.Background(), "a story", current, eval, "add tension")

	assert.Equal(t, "a castle", updated.Setting)
	assert.Equal(t, "the dragon guards the bridge", updated.Conflict)
}
