package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
)

var _ Publisher = (*GitHub)(nil)

// GitHub publishes to GitHub releases.
type GitHub struct {
	client *github.Client
}

// GitHubOption configures the GitHub publisher.
type GitHubOption func(*github.Client) error

// WithEndpoints points the client at another API and upload host, e.g. GitHub
// Enterprise or a test server. Both URLs get a trailing slash if missing.
func WithEndpoints(apiURL, uploadURL string) GitHubOption {
	return func(c *github.Client) error {
		base, err := parseEndpoint(apiURL)
		if err != nil {
			return fmt.Errorf("api url: %w", err)
		}
		upload, err := parseEndpoint(uploadURL)
		if err != nil {
			return fmt.Errorf("upload url: %w", err)
		}
		c.BaseURL = base
		c.UploadURL = upload
		return nil
	}
}

// NewGitHub creates a publisher authenticated with token. httpClient may be nil.
func NewGitHub(token string, httpClient *http.Client, opts ...GitHubOption) (*GitHub, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return &GitHub{client: client}, nil
}

// ResolveRelease implements Publisher.
func (g *GitHub) ResolveRelease(ctx context.Context, owner, repo, tag string) (*Release, error) {
	rel, resp, err := g.client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		return nil, &ReleaseError{Owner: owner, Repo: repo, Tag: tag, StatusCode: statusOf(resp), Err: err}
	}
	if rel.GetTagName() != "" && rel.GetTagName() != tag {
		return nil, &ReleaseError{Owner: owner, Repo: repo, Tag: tag, StatusCode: statusOf(resp),
			Err: fmt.Errorf("release has tag %q", rel.GetTagName())}
	}

	log.Debug().
		Int64("release", rel.GetID()).
		Str("tag", tag).
		Str("upload_url", rel.GetUploadURL()).
		Msg("resolved release")
	return &Release{
		Owner:     owner,
		Repo:      repo,
		Tag:       tag,
		ID:        rel.GetID(),
		UploadURL: rel.GetUploadURL(),
	}, nil
}

// Upload implements Publisher. The content length sent is the size of the
// file on disk, which must equal asset.ContentLength.
func (g *GitHub) Upload(ctx context.Context, release *Release, asset Asset) (string, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return "", &UploadError{Asset: asset.Name, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &UploadError{Asset: asset.Name, Err: err}
	}
	if info.Size() != asset.ContentLength {
		return "", &UploadError{Asset: asset.Name,
			Err: fmt.Errorf("file size %d differs from content length %d", info.Size(), asset.ContentLength)}
	}

	uploaded, resp, err := g.client.Repositories.UploadReleaseAsset(ctx, release.Owner, release.Repo, release.ID,
		&github.UploadOptions{
			Name:      asset.Name,
			MediaType: asset.ContentType,
		}, f)
	if err != nil {
		return "", &UploadError{Asset: asset.Name, StatusCode: statusOf(resp), Err: err}
	}

	downloadURL := uploaded.GetBrowserDownloadURL()
	log.Info().
		Str("asset", asset.Name).
		Int64("size", asset.ContentLength).
		Str("url", downloadURL).
		Msg("uploaded release asset")
	return downloadURL, nil
}

func statusOf(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return url.Parse(raw)
}
