// Package checksum parses "algorithm:hex" checksum fragments and computes file digests.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
)

// DefaultAlgorithm is used when a fragment carries no "algorithm:" prefix.
const DefaultAlgorithm = "sha1"

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

var (
	ErrMissingChecksum = errors.New("missing checksum fragment")
	ErrMissingURL      = errors.New("missing url")
)

// Spec is an expected digest together with the algorithm producing it.
type Spec struct {
	Algorithm string `yaml:"algorithm"`
	Expected  string `yaml:"expected"`
}

func (s Spec) String() string {
	return s.Algorithm + ":" + s.Expected
}

// MismatchError is returned when a computed digest differs from the expected one.
type MismatchError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s",
		e.Path, e.Algorithm, e.Expected, e.Actual)
}

// Parse parses "algorithm:hex" or a bare "hex" fragment.
func Parse(fragment string) (Spec, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return Spec{}, ErrMissingChecksum
	}

	algo, digest, ok := strings.Cut(fragment, ":")
	if !ok {
		algo, digest = DefaultAlgorithm, fragment
	}

	if !Supported(algo) {
		return Spec{}, fmt.Errorf("unsupported checksum algorithm %q (supported: %s)",
			algo, strings.Join(Algorithms(), ", "))
	}
	if !isLowerHex(digest) {
		return Spec{}, fmt.Errorf("checksum %q is not a lowercase hex digest", digest)
	}
	return Spec{Algorithm: algo, Expected: digest}, nil
}

// Supported reports whether algo names a known digest.
func Supported(algo string) bool {
	_, ok := algorithms[algo]
	return ok
}

// Algorithms returns the sorted names of all known digests.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComputeReader streams r through the named digest and returns it as lowercase hex.
func ComputeReader(r io.Reader, algorithm string) (string, error) {
	newHash, ok := algorithms[algorithm]
	if !ok {
		return "", fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	h := newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute returns the digest of the file at path.
func Compute(path, algorithm string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := ComputeReader(f, algorithm)
	if err != nil {
		return "", fmt.Errorf("hashing %q: %w", path, err)
	}
	return sum, nil
}

// Equal compares a possibly file-sourced expected value with a computed digest.
// Only surrounding whitespace of expected is ignored.
func Equal(expected, actual string) bool {
	return strings.TrimSpace(expected) == actual
}

// Verify computes the digest of path and returns it, or a *MismatchError.
func Verify(path string, spec Spec) (string, error) {
	actual, err := Compute(path, spec.Algorithm)
	if err != nil {
		return "", err
	}
	if !Equal(spec.Expected, actual) {
		return actual, &MismatchError{
			Path:      path,
			Algorithm: spec.Algorithm,
			Expected:  strings.TrimSpace(spec.Expected),
			Actual:    actual,
		}
	}
	return actual, nil
}

// isLowerHex accepts the form Compute produces.
func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
