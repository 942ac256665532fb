package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdictResponse(t *testing.T) {
	t.Run("well formed verdict", func(t *testing.T) {
		result := ParseVerdictResponse("is_appropriate: YES\nreason: matches the request\nscore: 8/10")
		assert.True(t, result.IsAppropriate)
		assert.Equal(t, "matches the request", result.Reason)
		assert.Equal(t, 8, result.Score)
	})

	t.Run("negative verdict", func(t *testing.T) {
		result := ParseVerdictResponse("is_appropriate: NO\nreason: too scary\nscore: 2/10")
		assert.False(t, result.IsAppropriate)
		assert.Equal(t, 2, result.Score)
	})

	t.Run("fractional score takes integer part", func(t *testing.T) {
		result := ParseVerdictResponse("is_appropriate: YES\nreason: ok\nscore: 7.5/10")
		assert.Equal(t, 7, result.Score)
	})

	t.Run("score without slash", func(t *testing.T) {
		result := ParseVerdictResponse("is_appropriate: YES\nreason: ok\nscore: 9")
		assert.Equal(t, 9, result.Score)
	})

	t.Run("unparseable defaults to five", func(t *testing.T) {
		result := ParseVerdictResponse("what a lovely story!")
		assert.Equal(t, 5, result.Score)
		assert.False(t, result.IsAppropriate)
	})

	t.Run("error marker zeroes the score", func(t *testing.T) {
		result := ParseVerdictResponse("ERROR: scoring unavailable (timeout)")
		assert.Equal(t, 0, result.Score)
		assert.False(t, result.IsAppropriate)
		assert.Contains(t, result.Reason, "scoring unavailable")
	})

	t.Run("extra lines are ignored", func(t *testing.T) {
		result := ParseVerdictResponse("Here is my verdict:\nis_appropriate: YES\nreason: fine\nscore: 6/10\nThank you!")
		assert.True(t, result.IsAppropriate)
		assert.Equal(t, 6, result.Score)
	})
}

func TestExtractJSONObject(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		got, err := ExtractJSONObject(`{"a": 1}`)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, got)
	})

	t.Run("markdown fences", func(t *testing.T) {
		got, err := ExtractJSONObject("```json\n{\"a\": 1}\n```")
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, got)
	})

	t.Run("surrounding prose", func(t *testing.T) {
		got, err := ExtractJSONObject(`Sure! Here you go: {"a": {"b": 2}} Hope that helps.`)
		require.NoError(t, err)
		assert.Equal(t, `{"a": {"b": 2}}`, got)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ExtractJSONObject("no json here")
		assert.Error(t, err)
	})
}
