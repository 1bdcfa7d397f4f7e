package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/azure"
	"github.com/sap-gg/azrelay/internal/checksum"
	"github.com/sap-gg/azrelay/internal/config"
	"github.com/sap-gg/azrelay/internal/fetch"
	"github.com/sap-gg/azrelay/internal/publish"
	"github.com/sap-gg/azrelay/internal/receipt"
)

const (
	artifactName = "Cache-Linux-install-v1"
	checksumName = "Cache-Linux-install-v1-checksum"
)

var cacheContent = []byte("prebuilt esy cache\n")

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func makeZip(t *testing.T, files map[string][]byte) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// azureFixture serves the build API and the artifact storage behind a redirect.
type azureFixture struct {
	definitions     int
	checksumText    string
	omitChecksum    bool
	missingArtifact string

	blobHits atomic.Int32
	server   *httptest.Server
}

func newAzureFixture(t *testing.T, configure func(f *azureFixture)) *azureFixture {
	f := &azureFixture{
		definitions:  1,
		checksumText: sha256Hex(cacheContent) + "\n",
	}
	if configure != nil {
		configure(f)
	}

	checksumFiles := map[string][]byte{checksumName + "/checksum.txt": []byte(f.checksumText)}
	if f.omitChecksum {
		checksumFiles = map[string][]byte{checksumName + "/README": []byte("empty")}
	}
	blobs := map[string][]byte{
		artifactName: makeZip(t, map[string][]byte{artifactName + "/cache.zip": cacheContent}),
		checksumName: makeZip(t, checksumFiles),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /esy-dev/esy/_apis/build/definitions", func(w http.ResponseWriter, r *http.Request) {
		values := ""
		for i := 0; i < f.definitions; i++ {
			if i > 0 {
				values += ","
			}
			values += fmt.Sprintf(`{"id":%d,"name":%q}`, 7+i, r.URL.Query().Get("name"))
		}
		fmt.Fprintf(w, `{"count":%d,"value":[%s]}`, f.definitions, values)
	})
	mux.HandleFunc("GET /esy-dev/esy/_apis/build/builds", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":1,"value":[{"id":42,"status":"completed","result":"succeeded"}]}`))
	})
	mux.HandleFunc("GET /esy-dev/esy/_apis/build/builds/42/artifacts", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("artifactName")
		if _, ok := blobs[name]; !ok || name == f.missingArtifact {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"message":"Artifact %s was not found for build 42."}`, name)
			return
		}
		fmt.Fprintf(w, `{"id":1,"name":%q,"resource":{"type":"Container","downloadUrl":%q}}`,
			name, f.server.URL+"/redirect/"+name)
	})
	mux.HandleFunc("GET /redirect/{name}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/blob/"+r.PathValue("name"), http.StatusFound)
	})
	mux.HandleFunc("GET /blob/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.blobHits.Add(1)
		blob, ok := blobs[r.PathValue("name")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(blob)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type fakePublisher struct {
	mu         sync.Mutex
	releaseErr error
	uploadErr  error
	uploads    []publish.Asset
}

func (p *fakePublisher) ResolveRelease(_ context.Context, owner, repo, tag string) (*publish.Release, error) {
	if p.releaseErr != nil {
		return nil, p.releaseErr
	}
	return &publish.Release{Owner: owner, Repo: repo, Tag: tag, ID: 1}, nil
}

func (p *fakePublisher) Upload(_ context.Context, release *publish.Release, asset publish.Asset) (string, error) {
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	info, err := os.Stat(asset.Path)
	if err != nil {
		return "", err
	}
	if info.Size() != asset.ContentLength {
		return "", fmt.Errorf("content length %d does not match file size %d", asset.ContentLength, info.Size())
	}

	p.mu.Lock()
	p.uploads = append(p.uploads, asset)
	p.mu.Unlock()
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s",
		release.Owner, release.Repo, release.Tag, asset.Name), nil
}

func newPipeline(t *testing.T, f *azureFixture, publisher publish.Publisher, opts ...Option) (*Pipeline, *config.Config) {
	cfg := config.Default()
	cfg.Azure.URL = f.server.URL + "/esy-dev/esy"
	cfg.Artifacts = config.Artifacts{Name: artifactName, ChecksumName: checksumName}
	cfg.Release = config.Release{Repository: "esy/pesy-reason-template", Ref: "refs/tags/v0.1.0", Token: "t"}
	cfg.WorkDir = t.TempDir()

	client, err := azure.NewClient(cfg.Azure.URL)
	require.NoError(t, err)
	return New(cfg, client, fetch.New(), publisher, opts...), cfg
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should publish the verified pair", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		publisher := &fakePublisher{}
		p, cfg := newPipeline(t, f, publisher)

		result, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, ExitOK, ExitCode(err))
		assert.Equal(t, []State{
			ResolvingDefinition, ResolvingBuild, ResolvingArtifacts, Downloading,
			Unpacking, VerifyingPair, Publishing, Done,
		}, p.History())
		assert.Equal(t, Done, p.State())

		assert.Equal(t, 7, result.DefinitionID)
		assert.Equal(t, 42, result.BuildID)
		assert.Equal(t, sha256Hex(cacheContent), result.Pair.Actual)
		assert.Equal(t, result.Pair.Expected, result.Pair.Actual)

		require.Len(t, publisher.uploads, 2)
		byName := map[string]publish.Asset{}
		for _, a := range publisher.uploads {
			byName[a.Name] = a
		}
		assert.Equal(t, internal.ZipContentType, byName[artifactName].ContentType)
		assert.Equal(t, int64(len(cacheContent)), byName[artifactName].ContentLength)
		assert.Equal(t, filepath.Join(cfg.WorkDir, artifactName+".zip"), byName[artifactName].Path)
		assert.Equal(t, internal.TextContentType, byName[checksumName].ContentType)
		assert.Equal(t, int64(len(sha256Hex(cacheContent))+1), byName[checksumName].ContentLength)
		assert.Equal(t, filepath.Join(cfg.WorkDir, checksumName+".txt"), byName[checksumName].Path)

		got, err := receipt.Read(cfg.WorkDir)
		require.NoError(t, err)
		assert.Equal(t, 42, got.BuildID)
		assert.Equal(t, "v0.1.0", got.Tag)
		assert.Equal(t, sha256Hex(cacheContent), got.Assets[artifactName].Hash)
		assert.Equal(t, result.Uploads[checksumName], got.Assets[checksumName].URL)
	})

	t.Run("should finish when only the receipt cannot be written", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		publisher := &fakePublisher{}
		p, cfg := newPipeline(t, f, publisher)
		require.NoError(t, os.Mkdir(receipt.Path(cfg.WorkDir), 0o755))

		result, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, ExitOK, ExitCode(err))
		assert.Equal(t, Done, p.State())
		assert.Len(t, publisher.uploads, 2)
		assert.Len(t, result.Uploads, 2)
		assert.Nil(t, result.Receipt)
	})

	t.Run("should refuse to publish on a checksum mismatch", func(t *testing.T) {
		f := newAzureFixture(t, func(f *azureFixture) {
			f.checksumText = sha256Hex([]byte("something else")) + "\n"
		})
		publisher := &fakePublisher{}
		p, cfg := newPipeline(t, f, publisher)

		_, err := p.Run(ctx)
		require.Error(t, err)
		assert.Equal(t, ExitMismatch, ExitCode(err))

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, VerifyingPair, stageErr.State)
		var mismatch *checksum.MismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, sha256Hex(cacheContent), mismatch.Actual)

		assert.Empty(t, publisher.uploads)
		assert.Equal(t, Failed, p.State())
		_, err = receipt.Read(cfg.WorkDir)
		assert.ErrorIs(t, err, receipt.ErrNoReceipt)
	})

	t.Run("should fail on an ambiguous definition", func(t *testing.T) {
		f := newAzureFixture(t, func(f *azureFixture) { f.definitions = 2 })
		publisher := &fakePublisher{}
		p, _ := newPipeline(t, f, publisher)

		_, err := p.Run(ctx)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, ExitCode(err))

		var ambiguous *azure.AmbiguousResultError
		require.ErrorAs(t, err, &ambiguous)
		assert.Equal(t, 2, ambiguous.Count)
		assert.Equal(t, []State{ResolvingDefinition, Failed}, p.History())
		assert.Zero(t, f.blobHits.Load())
	})

	t.Run("should fail when the checksum artifact is missing", func(t *testing.T) {
		f := newAzureFixture(t, func(f *azureFixture) { f.missingArtifact = checksumName })
		p, _ := newPipeline(t, f, &fakePublisher{})

		_, err := p.Run(ctx)
		require.ErrorIs(t, err, azure.ErrArtifactMissing)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, ResolvingArtifacts, stageErr.State)
	})

	t.Run("should fail when the checksum file is not in the archive", func(t *testing.T) {
		f := newAzureFixture(t, func(f *azureFixture) { f.omitChecksum = true })
		p, _ := newPipeline(t, f, &fakePublisher{})

		_, err := p.Run(ctx)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, Unpacking, stageErr.State)
		assert.Contains(t, err.Error(), internal.ChecksumFileName)
	})

	t.Run("should fail when an upload fails", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		publisher := &fakePublisher{uploadErr: &publish.UploadError{Asset: artifactName, StatusCode: 422,
			Err: errors.New("already_exists")}}
		p, cfg := newPipeline(t, f, publisher)

		_, err := p.Run(ctx)
		var uploadErr *publish.UploadError
		require.ErrorAs(t, err, &uploadErr)
		assert.Equal(t, ExitFailure, ExitCode(err))
		assert.Equal(t, Failed, p.State())
		_, err = receipt.Read(cfg.WorkDir)
		assert.ErrorIs(t, err, receipt.ErrNoReceipt)
	})

	t.Run("should stop after resolving artifacts", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		p, _ := newPipeline(t, f, nil, WithUntil(ResolvingArtifacts))

		result, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, f.server.URL+"/redirect/"+artifactName, result.Artifact.DownloadURL())
		assert.Equal(t, f.server.URL+"/redirect/"+checksumName, result.ChecksumArtifact.DownloadURL())
		assert.Equal(t, ResolvingArtifacts, p.State())
		assert.Zero(t, f.blobHits.Load())
	})

	t.Run("should verify without publishing on a dry run", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		p, cfg := newPipeline(t, f, nil, WithUntil(VerifyingPair))

		result, err := p.Run(ctx)
		require.NoError(t, err)
		assert.NotNil(t, result.Pair)
		assert.FileExists(t, filepath.Join(cfg.WorkDir, internal.CacheFileName))
		assert.Equal(t, int32(2), f.blobHits.Load())
	})

	t.Run("should require a publisher to publish", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		p, _ := newPipeline(t, f, nil)

		_, err := p.Run(ctx)
		require.Error(t, err)
		assert.Empty(t, p.History())
	})

	t.Run("should fail fast on a locked working directory", func(t *testing.T) {
		f := newAzureFixture(t, nil)
		p, cfg := newPipeline(t, f, &fakePublisher{})

		other := flock.New(filepath.Join(cfg.WorkDir, internal.LockFileName))
		locked, err := other.TryLock()
		require.NoError(t, err)
		require.True(t, locked)
		t.Cleanup(func() { _ = other.Unlock() })

		_, err = p.Run(ctx)
		require.ErrorIs(t, err, ErrLocked)
		assert.Empty(t, p.History())
	})
}

func TestExitCode(t *testing.T) {
	mismatch := &checksum.MismatchError{Path: "cache.zip", Algorithm: "sha256", Expected: "aa", Actual: "bb"}

	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitMismatch, ExitCode(&StageError{State: VerifyingPair, Err: mismatch}))
	assert.Equal(t, ExitMismatch, ExitCode(fmt.Errorf("wrapped: %w", mismatch)))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "VerifyingPair", VerifyingPair.String())
	assert.Equal(t, "State(42)", State(42).String())
}
