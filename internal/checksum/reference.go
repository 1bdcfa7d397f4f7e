package checksum

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Reference is a download URL carrying its expected checksum in the fragment,
// e.g. "https://host/file.tgz#sha256:abcd" or "https://host/file.tgz#abcd".
type Reference struct {
	URL      string
	Checksum Spec
}

// ParseReference splits raw into URL and checksum. A missing fragment is an error.
func ParseReference(raw string) (Reference, error) {
	rawURL, fragment, _ := strings.Cut(strings.TrimSpace(raw), "#")
	if rawURL == "" {
		return Reference{}, fmt.Errorf("reference %q: %w", raw, ErrMissingURL)
	}
	if fragment == "" {
		return Reference{}, fmt.Errorf("reference %q: %w", raw, ErrMissingChecksum)
	}

	spec, err := Parse(fragment)
	if err != nil {
		return Reference{}, fmt.Errorf("reference %q: %w", raw, err)
	}
	return Reference{URL: rawURL, Checksum: spec}, nil
}

// Filename returns the last path element of the reference URL.
func (r Reference) Filename() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", r.URL, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("url %q has no file name", r.URL)
	}
	return name, nil
}

func (r Reference) String() string {
	return r.URL + "#" + r.Checksum.String()
}
