package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	t.Setenv(EnvLevel, "")
	lvl, err := Level(false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = Level(true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	t.Setenv(EnvLevel, "info")
	lvl, err = Level(false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = Level(true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl, "verbose wins over the environment")

	t.Setenv(EnvLevel, "chatty")
	_, err = Level(false)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	log, err := New(false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
