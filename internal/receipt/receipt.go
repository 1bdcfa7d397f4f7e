// Package receipt records what a finished run verified and published.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/checksum"
)

// ErrNoReceipt is returned by Read when the directory holds no receipt.
var ErrNoReceipt = errors.New("no receipt found")

type Assets map[string]*Asset

func (a Assets) MarshalYAML() (interface{}, error) {
	var result yaml.MapSlice
	for k, v := range a {
		result = append(result, yaml.MapItem{
			Key:   k,
			Value: v,
		})
	}
	slices.SortFunc(result, func(a, b yaml.MapItem) int {
		return strings.Compare(a.Key.(string), b.Key.(string))
	})
	return result, nil
}

// Receipt is the YAML document written after a successful run.
type Receipt struct {
	Version      int       `yaml:"version" validate:"required"`
	GeneratedAt  time.Time `yaml:"generatedAt"`
	Definition   string    `yaml:"definition" validate:"required"`
	DefinitionID int       `yaml:"definitionId" validate:"gt=0"`
	BuildID      int       `yaml:"buildId" validate:"gt=0"`
	// Tag is empty for runs that stopped before publishing.
	Tag    string `yaml:"tag,omitempty"`
	Assets Assets `yaml:"assets" validate:"dive"`
}

// Asset describes one file of the verified pair.
type Asset struct {
	Hash        string `yaml:"hash" validate:"required,hexadecimal"`
	Size        int64  `yaml:"size"`
	ContentType string `yaml:"contentType" validate:"required"`
	// URL is the download URL of the published asset.
	URL string `yaml:"url,omitempty" validate:"omitempty,url"`
}

// New creates an empty receipt for the given build.
func New(definition string, definitionID, buildID int) *Receipt {
	return &Receipt{
		Version:      internal.ReceiptVersion,
		GeneratedAt:  time.Now().UTC(),
		Definition:   definition,
		DefinitionID: definitionID,
		BuildID:      buildID,
		Assets:       make(Assets),
	}
}

// Add hashes the file at path and records it under name.
func (r *Receipt) Add(name, path, contentType, url string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	hash, err := checksum.Compute(path, internal.PairAlgorithm)
	if err != nil {
		return fmt.Errorf("computing hash for %q: %w", path, err)
	}
	r.Assets[name] = &Asset{
		Hash:        hash,
		Size:        info.Size(),
		ContentType: contentType,
		URL:         url,
	}
	return nil
}

// Path returns the receipt location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, internal.ReceiptFileName)
}

// Write stores the receipt in dir, replacing an existing one.
func Write(ctx context.Context, dir string, r *Receipt) error {
	if err := internal.Validator().Struct(r); err != nil {
		return internal.ValidationSummary(err)
	}

	path := Path(dir)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating receipt: %w", err)
	}

	if err := internal.NewYAMLEncoder(f).EncodeContext(ctx, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding receipt: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing receipt: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("assets", len(r.Assets)).
		Msg("receipt written")
	return nil
}

// Read loads the receipt from dir.
func Read(dir string) (*Receipt, error) {
	f, err := os.Open(Path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %q", ErrNoReceipt, dir)
		}
		return nil, fmt.Errorf("opening receipt: %w", err)
	}
	defer f.Close()

	var r Receipt
	if err := internal.NewYAMLDecoder(f).Decode(&r); err != nil {
		if formatted, ok := internal.FormatDecodeError(err); ok {
			return nil, fmt.Errorf("parsing receipt:\n%s", formatted)
		}
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}

	if r.Version != internal.ReceiptVersion {
		return nil, fmt.Errorf("unsupported receipt version: %d", r.Version)
	}
	return &r, nil
}
