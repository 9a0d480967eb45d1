package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstream.org/internal/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	for _, cfg := range []config.Config{
		{Store: config.StoreMemory},
		{Store: config.StoreBolt, BoltPath: filepath.Join(t.TempDir(), "fin.db")},
	} {
		b, err := Open(cfg)
		require.NoError(t, err, cfg.Store)
		assert.NoError(t, b.Ping(context.Background()))
		assert.NoError(t, b.Close())
	}

	_, err := Open(config.Config{Store: "mongo"})
	assert.Error(t, err)
}
