package logging_test

import (
	"testing"

	"support-bot/config"
	"support-bot/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_New_Honours_Level(t *testing.T) {
	log, err := logging.New(config.LoggingConfig{Level: "WARN", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func Test_New_Falls_Back_To_Info(t *testing.T) {
	log, err := logging.New(config.LoggingConfig{Level: "chatty"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
