package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	seen := map[string]bool{prev: true}
	for i := 0; i < 1000; i++ {
		id := New()
		_, err := ulid.ParseStrict(id)
		require.NoError(t, err)
		assert.False(t, seen[id])
		assert.Less(t, prev, id)
		seen[id] = true
		prev = id
	}
}
