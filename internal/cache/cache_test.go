package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sap-gg/azrelay/internal/checksum"
	"github.com/sap-gg/azrelay/internal/fetch"
)

// countingFetcher wraps a real fetcher and counts network fetches.
type countingFetcher struct {
	inner Fetcher
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, url, dst string) (string, error) {
	f.calls.Add(1)
	return f.inner.Fetch(ctx, url, dst)
}

func setupTestServer(t *testing.T, content *atomic.Value) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Logf("Mock server received a request for: %s", r.URL.Path)
		if r.URL.Path == "/redirect/pkg.tgz" {
			http.Redirect(w, r, "/files/pkg.tgz", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(content.Load().(string)))
	}))
	t.Cleanup(server.Close)
	return server
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCache_Resolve(t *testing.T) {
	ctx := context.Background()

	fileContent := "This is the content of our test artifact."
	var served atomic.Value
	served.Store(fileContent)
	server := setupTestServer(t, &served)

	ref := checksum.Reference{
		URL:      server.URL + "/redirect/pkg.tgz",
		Checksum: checksum.Spec{Algorithm: "sha256", Expected: sha256Hex(fileContent)},
	}

	t.Run("should fetch once and then hit the cache", func(t *testing.T) {
		fetcher := &countingFetcher{inner: fetch.New()}
		c, err := New(t.TempDir(), fetcher)
		require.NoError(t, err)

		path, err := c.Resolve(ctx, ref)
		require.NoError(t, err)
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(content))
		assert.Equal(t, "pkg.tgz", filepath.Base(path))

		again, err := c.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, path, again)

		assert.EqualValues(t, 1, fetcher.calls.Load(), "second resolve must not touch the network")
		assert.Equal(t, Stats{Hits: 1, Fetches: 1}, c.Stats())
	})

	t.Run("should re-fetch a stale file exactly once", func(t *testing.T) {
		fetcher := &countingFetcher{inner: fetch.New()}
		c, err := New(t.TempDir(), fetcher)
		require.NoError(t, err)

		path, err := c.PathFor(ref)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

		resolved, err := c.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, path, resolved)

		content, err := os.ReadFile(resolved)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(content))
		assert.EqualValues(t, 1, fetcher.calls.Load())
	})

	t.Run("should fail with a mismatch and never return a bad path", func(t *testing.T) {
		fetcher := &countingFetcher{inner: fetch.New()}
		cacheDir := t.TempDir()
		c, err := New(cacheDir, fetcher)
		require.NoError(t, err)

		path, err := c.PathFor(ref)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))

		served.Store("This content is intentionally wrong.")
		t.Cleanup(func() { served.Store(fileContent) })

		resolved, err := c.Resolve(ctx, ref)
		require.Error(t, err)
		assert.Empty(t, resolved)

		var mismatch *checksum.MismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, ref.Checksum.Expected, mismatch.Expected)
		assert.Equal(t, sha256Hex("This content is intentionally wrong."), mismatch.Actual)

		assert.EqualValues(t, 1, fetcher.calls.Load(), "no retry beyond the single re-fetch")
		assert.NoFileExists(t, path)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Empty(t, entries, "temporary download must be cleaned up")
	})

	t.Run("should key by checksum so equal names do not collide", func(t *testing.T) {
		c, err := New(t.TempDir(), fetch.New())
		require.NoError(t, err)

		other := ref
		other.Checksum.Expected = sha256Hex("other")

		p1, err := c.PathFor(ref)
		require.NoError(t, err)
		p2, err := c.PathFor(other)
		require.NoError(t, err)
		assert.NotEqual(t, p1, p2)
		assert.Equal(t, filepath.Base(p1), filepath.Base(p2))
	})

	t.Run("should reject urls without a file name", func(t *testing.T) {
		fetcher := &countingFetcher{inner: fetch.New()}
		c, err := New(t.TempDir(), fetcher)
		require.NoError(t, err)

		noName := ref
		noName.URL = server.URL
		_, err = c.Resolve(ctx, noName)
		require.Error(t, err)
		assert.Zero(t, fetcher.calls.Load())
	})
}
