package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, []string{"ghp_secret", "pat"})

	n, err := w.Write([]byte("token=ghp_secret auth=pat"))
	require.NoError(t, err)
	assert.Equal(t, len("token=ghp_secret auth=pat"), n)
	assert.Equal(t, "token=******** auth=********", buf.String())
}

func TestInitTo(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("should mask secrets in json output", func(t *testing.T) {
		viper.Reset()
		viper.Set(LogFormatKey, "json")
		viper.Set(LogLevelKey, "debug")

		var buf bytes.Buffer
		closer := InitTo(&buf, []string{"ghp_secret", ""})
		defer closer.Close()

		log.Debug().Str("token", "ghp_secret").Msg("uploading")
		assert.Contains(t, buf.String(), `"token":"********"`)
		assert.NotContains(t, buf.String(), "ghp_secret")
	})

	t.Run("should also write to the log file", func(t *testing.T) {
		viper.Reset()
		viper.Set(LogLevelKey, "info")
		viper.Set(LogFormatKey, "console")
		viper.Set(LogNoColorKey, true)
		path := filepath.Join(t.TempDir(), "azrelay.log")
		viper.Set(LogFileKey, path)

		var buf bytes.Buffer
		closer := InitTo(&buf, []string{"ghp_secret"})

		log.Info().Msg("resolved build ghp_secret")
		require.NoError(t, closer.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "resolved build ********")
		assert.Contains(t, buf.String(), "resolved build ********")
	})

	t.Run("should default to info without a level", func(t *testing.T) {
		viper.Reset()
		viper.Set(LogFormatKey, "json")

		var buf bytes.Buffer
		closer := InitTo(&buf, nil)
		defer closer.Close()

		log.Debug().Msg("hidden")
		log.Info().Msg("visible")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
		assert.NotContains(t, buf.String(), "invalid log level")
	})

	t.Run("should fall back to info on invalid levels", func(t *testing.T) {
		viper.Reset()
		viper.Set(LogFormatKey, "json")
		viper.Set(LogLevelKey, "loud")

		var buf bytes.Buffer
		closer := InitTo(&buf, nil)
		defer closer.Close()

		log.Debug().Msg("hidden")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `invalid log level`)
	})
}
