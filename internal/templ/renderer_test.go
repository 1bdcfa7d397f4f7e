package templ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()

	t.Run("should render and trim", func(t *testing.T) {
		out, err := r.Render(" Cache-{{ .Platform }}-install-v1\n", map[string]string{"Platform": "Darwin-arm64"})
		require.NoError(t, err)
		assert.Equal(t, "Cache-Darwin-arm64-install-v1", out)
	})

	t.Run("should reuse the parsed template", func(t *testing.T) {
		_, err := r.Render("{{ .A }}", map[string]string{"A": "x"})
		require.NoError(t, err)
		_, ok := r.cache.Load("{{ .A }}")
		assert.True(t, ok)
	})

	t.Run("should fail on missing keys", func(t *testing.T) {
		_, err := r.Render("{{ .Missing }}", map[string]string{})
		require.Error(t, err)
	})

	t.Run("should fail on empty output", func(t *testing.T) {
		_, err := r.Render("{{ .A }}", map[string]string{"A": "  "})
		require.Error(t, err)
	})

	t.Run("should fail on parse errors", func(t *testing.T) {
		_, err := r.Render("{{ .A ", nil)
		require.Error(t, err)
	})
}
