package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Run("ShortAndLong", func(t *testing.T) {
		fc, err := ParseFlags([]string{"-c", "/etc/dealflow.toml", "-q", "--log-level", "Warning"})
		require.NoError(t, err)
		assert.Equal(t, "/etc/dealflow.toml", fc.ConfigFile)
		assert.True(t, fc.Quiet)
		assert.Equal(t, []string{"--logging.level=warn"}, fc.ConfigArgs)
	})

	t.Run("DottedOverridesPassThrough", func(t *testing.T) {
		fc, err := ParseFlags([]string{"--server.port=9000", "--log-output", "none", "--pipeline.batch_size", "50"})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"--logging.output=none",
			"--server.port=9000",
			"--pipeline.batch_size=50",
		}, fc.ConfigArgs)
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		_, err := ParseFlags([]string{"--log-level", "loud"})
		assert.Error(t, err)
	})

	t.Run("Version", func(t *testing.T) {
		fc, err := ParseFlags([]string{"-v"})
		require.NoError(t, err)
		assert.True(t, fc.ShowVersion)
	})

	t.Run("AutoReloadIsNotAnOverride", func(t *testing.T) {
		fc, err := ParseFlags([]string{"--config-auto-reload"})
		require.NoError(t, err)
		assert.True(t, fc.AutoReload)
		assert.Empty(t, fc.ConfigArgs)
	})
}

func TestServeArgs(t *testing.T) {
	assert.Equal(t, []string{"-q"}, serveArgs([]string{"serve", "-q"}))
	assert.Equal(t, []string{"-q"}, serveArgs([]string{"-q"}))
	assert.Empty(t, serveArgs(nil))
}
