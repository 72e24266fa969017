package server

import (
	"net/url"
	"testing"

	"caesium/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedValue(t *testing.T) {
	assert.Equal(t, true, typedValue("true"))
	assert.Equal(t, true, typedValue("True"))
	assert.Equal(t, true, typedValue("yes"))
	assert.Equal(t, false, typedValue("false"))
	assert.Equal(t, false, typedValue("no"))
	assert.Equal(t, "maybe", typedValue("maybe"))
	assert.Equal(t, "1", typedValue("1"), "Numbers stay strings, stored values decide")
}

func TestFilterFromQuery(t *testing.T) {
	reserved := []string{"limit", "page", "orderby", "direction"}

	t.Run("SimpleParams", func(t *testing.T) {
		values, err := url.ParseQuery("status=draft&published=true&limit=10")
		require.NoError(t, err)

		filter := filterFromQuery(values, reserved)
		assert.Equal(t, "draft", filter["status"])
		assert.Equal(t, true, filter["published"])
		assert.NotContains(t, filter, "limit", "Reserved parameters must not become filters")
	})

	t.Run("RepeatedParamBecomesOr", func(t *testing.T) {
		values, err := url.ParseQuery("status=draft&status=review")
		require.NoError(t, err)

		filter := filterFromQuery(values, reserved)
		assert.NotContains(t, filter, "status")
		assert.Equal(t, []interface{}{
			docstore.Document{"status": "draft"},
			docstore.Document{"status": "review"},
		}, filter["$or"])
	})

	t.Run("Empty", func(t *testing.T) {
		filter := filterFromQuery(url.Values{}, reserved)
		assert.Empty(t, filter)
	})
}
