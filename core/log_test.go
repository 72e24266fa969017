package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerDefault(t *testing.T) {
	assert.NotNil(t, GetLogger(), "A usable logger exists before any configuration")
}

func TestConfigureLogger(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	require.NoError(t, ConfigureLogger(true, "debug"))
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, ConfigureLogger(false, "error"))
	assert.False(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
	assert.True(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))
}

func TestConfigureLoggerBadOutputPath(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	err := ConfigureLogger(false, "info", "unknown-scheme://nowhere")
	assert.Error(t, err, "An unusable sink should fail, not replace the logger")
	assert.Equal(t, prev, Logger)
}
