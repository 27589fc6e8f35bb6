package pgmetadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributesToJSON(t *testing.T) {
	t.Run("nil becomes empty object", func(t *testing.T) {
		b, err := attributesToJSON(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(b))
	})

	t.Run("round trips values", func(t *testing.T) {
		b, err := attributesToJSON(map[string]string{"producedBy": "RUN_MODEL"})
		require.NoError(t, err)

		var m map[string]string
		require.NoError(t, json.Unmarshal(b, &m))
		assert.Equal(t, "RUN_MODEL", m["producedBy"])
	})
}
