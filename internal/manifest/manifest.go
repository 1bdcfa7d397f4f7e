// Package manifest reads project level defaults for azrelay from one or more
// manifest files (package.json, YAML, TOML or properties).
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/merge"
)

// DefaultFiles are the manifests picked up from the working directory, lowest precedence first.
var DefaultFiles = []string{
	"package.json",
	"azrelay.properties",
	"azrelay.toml",
	"azrelay.yml",
	"azrelay.yaml",
}

// Manifest holds the project fields azrelay can take from a manifest.
type Manifest struct {
	// AzureProject is "<organization>/<project>" on dev.azure.com.
	AzureProject string `json:"azure-project" validate:"omitempty,slug"`

	// AzureURL overrides the project URL derived from AzureProject.
	AzureURL string `json:"azure-url" validate:"omitempty,url"`

	// Definition is the build definition name.
	Definition string `json:"definition"`

	// Branch is the branch whose latest build is used.
	Branch string `json:"branch"`

	// ArtifactTemplate names the main artifact; see config.NameData for the fields.
	ArtifactTemplate string `json:"artifact-template"`

	// ChecksumTemplate names the checksum sidecar artifact.
	ChecksumTemplate string `json:"checksum-template"`
}

// Discover returns the DefaultFiles present in dir.
func Discover(dir string) []string {
	var found []string
	for _, name := range DefaultFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			found = append(found, path)
		}
	}
	return found
}

// Load decodes every path with the matching decoder of registry and merges
// them in order, later files overriding earlier ones.
func Load(ctx context.Context, registry *Registry, paths ...string) (*Manifest, error) {
	layers := make([]map[string]any, 0, len(paths))
	for _, path := range paths {
		layer, err := decodeFile(ctx, registry, path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	merged := merge.Layers(layers...)

	// values arrive as generic documents from four formats; a JSON round trip
	// maps them onto the struct without per-format struct tags
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode merged manifest: %w", err)
	}

	if err := internal.Validator().Struct(&m); err != nil {
		return nil, internal.ValidationSummary(err)
	}
	return &m, nil
}

func decodeFile(ctx context.Context, registry *Registry, path string) (map[string]any, error) {
	decoder, ok := registry.For(path)
	if !ok {
		return nil, fmt.Errorf("no manifest decoder for %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("manifest %q does not exist", path)
		}
		return nil, fmt.Errorf("open manifest %q: %w", path, err)
	}
	defer f.Close()

	layer, err := decoder.Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Str("decoder", decoder.Name()).
		Int("keys", len(layer)).
		Msg("loaded manifest")
	return layer, nil
}
