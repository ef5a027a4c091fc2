package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		err := Init(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("writes to rotating file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "injector.log")
		require.NoError(t, Init(Config{Level: "info", Format: "json", File: file, MaxSize: 1}))

		New("test").Info("hello")

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
		assert.Contains(t, string(data), `"module":"test"`)
	})
}

func TestDiscard(t *testing.T) {
	entry := Discard()
	assert.NotPanics(t, func() { entry.Error("dropped") })
}
