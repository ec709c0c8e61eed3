package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inspectsync/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { logger.Replace(nil) })

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug"}))
	require.NoError(t, ConfigureLogging(ServerConfig{LogFormat: "console"}))
	require.NoError(t, ConfigureLogging(ServerConfig{}))
	require.Error(t, ConfigureLogging(ServerConfig{LogFormat: "syslog"}))
}
