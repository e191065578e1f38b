package dslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(zerolog.Disabled, parseLevel("disabled"))
	assert.Equal(zerolog.InfoLevel, parseLevel("bogus"))
}

func TestReloadLoggerWritesToFile(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "router.log")
	ReloadLogger(path, "info", false)
	t.Cleanup(func() { ReloadLogger("", "info", false) })

	Zero.Info().Str("dataset", "global").Msg("hello")

	data, err := os.ReadFile(path)
	assert.NoError(err)
	assert.Contains(string(data), `"dataset":"global"`)
}

func TestGetPointer(t *testing.T) {
	assert := assert.New(t)
	a, b := 1, 2
	assert.NotEqual(GetPointer(&a), GetPointer(&b))
	assert.Equal(GetPointer(&a), GetPointer(&a))
}
