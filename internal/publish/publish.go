// Package publish uploads verified artifacts as release assets.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Release is the target of an upload.
type Release struct {
	Owner     string
	Repo      string
	Tag       string
	ID        int64
	UploadURL string
}

// Asset is a single file to upload.
type Asset struct {
	Name          string
	Path          string
	ContentType   string
	ContentLength int64
}

// NewAsset describes the file at path, taking its length from the file system.
func NewAsset(path, name, contentType string) (Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Asset{}, fmt.Errorf("stat asset %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Asset{}, fmt.Errorf("asset %q is not a regular file", path)
	}
	return Asset{
		Name:          name,
		Path:          path,
		ContentType:   contentType,
		ContentLength: info.Size(),
	}, nil
}

// Publisher resolves releases and uploads assets to them.
type Publisher interface {
	// ResolveRelease looks up the release with exactly the given tag.
	ResolveRelease(ctx context.Context, owner, repo, tag string) (*Release, error)

	// Upload uploads one asset and returns its public download URL.
	Upload(ctx context.Context, release *Release, asset Asset) (string, error)
}

// TagFromRef turns "refs/tags/v1.2.3" into "v1.2.3". Bare tags are returned as is,
// other refs are rejected.
func TagFromRef(ref string) (string, error) {
	if tag, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		if tag == "" {
			return "", fmt.Errorf("ref %q has an empty tag", ref)
		}
		return tag, nil
	}
	if strings.HasPrefix(ref, "refs/") {
		return "", fmt.Errorf("ref %q is not a tag", ref)
	}
	if ref == "" {
		return "", fmt.Errorf("tag is required")
	}
	return ref, nil
}

// ReleaseError is returned when the release lookup does not succeed.
type ReleaseError struct {
	Owner      string
	Repo       string
	Tag        string
	StatusCode int
	Err        error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("lookup release %s/%s@%s (status %d): %v", e.Owner, e.Repo, e.Tag, e.StatusCode, e.Err)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}

// NotFound reports whether no release exists for the tag.
func (e *ReleaseError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// UploadError is returned when an asset upload does not succeed.
type UploadError struct {
	Asset      string
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload asset %s (status %d): %v", e.Asset, e.StatusCode, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
