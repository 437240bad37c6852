// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseJSONResponse(t *testing.T) {
	t.Run("bare json object", func(t *testing.T) {
		res, err := ParseJSONResponse[testPayload](`{"name": "alpha", "count": 3}`)
		require.NoError(t, err)
		assert.Equal(t, "alpha", res.Name)
		assert.Equal(t, 3, res.Count)
	})

	t.Run("markdown fenced json", func(t *testing.T) {
		input := "```json\n{\"name\": \"beta\", \"count\": 7}\n```"
		res, err := ParseJSONResponse[testPayload](input)
		require.NoError(t, err)
		assert.Equal(t, "beta", res.Name)
		assert.Equal(t, 7, res.Count)
	})

	t.Run("fence without language tag", func(t *testing.T) {
		input := "```\n{\"name\": \"gamma\"}\n```"
		res, err := ParseJSONResponse[testPayload](input)
		require.NoError(t, err)
		assert.Equal(t, "gamma", res.Name)
	})

	t.Run("json embedded in conversational text", func(t *testing.T) {
		input := `Sure! Here is the plan you asked for: {"name": "delta", "count": 1} Hope that helps.`
		res, err := ParseJSONResponse[testPayload](input)
		require.NoError(t, err)
		assert.Equal(t, "delta", res.Name)
	})

	t.Run("json array", func(t *testing.T) {
		input := "```json\n[{\"name\": \"a\"}, {\"name\": \"b\"}]\n```"
		res, err := ParseJSONResponse[[]testPayload](input)
		require.NoError(t, err)
		require.Len(t, *res, 2)
		assert.Equal(t, "b", (*res)[1].Name)
	})

	t.Run("malformed json returns error", func(t *testing.T) {
		_, err := ParseJSONResponse[testPayload](`{"name": "broken",`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal")
	})

	t.Run("plain prose returns error", func(t *testing.T) {
		_, err := ParseJSONResponse[testPayload]("I cannot produce a plan for that page.")
		require.Error(t, err)
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
