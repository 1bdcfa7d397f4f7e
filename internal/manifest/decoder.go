package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"github.com/pelletier/go-toml/v2"

	"github.com/sap-gg/azrelay/internal"
)

// Decoder turns one manifest file into a generic document.
type Decoder interface {
	// Name returns a human-friendly decoder name for logging.
	Name() string

	Decode(ctx context.Context, r io.Reader) (map[string]any, error)
}

// Registry maps file names and extensions to decoders.
type Registry struct {
	byFilename  map[string]Decoder
	byExtension map[string]Decoder
}

// NewRegistry constructs a registry. Extension keys must start with a dot.
func NewRegistry(byFilename, byExtension map[string]Decoder) (*Registry, error) {
	byExt := make(map[string]Decoder)
	for ext, d := range byExtension {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension key for decoder: %q", ext)
		}
		byExt[ext] = d
	}
	byName := make(map[string]Decoder)
	for name, d := range byFilename {
		byName[strings.ToLower(name)] = d
	}
	return &Registry{byFilename: byName, byExtension: byExt}, nil
}

// DefaultRegistry knows package.json, JSON, YAML, TOML and properties manifests.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(
		map[string]Decoder{
			"package.json": &PackageJSONDecoder{Section: "pesy"},
		},
		map[string]Decoder{
			".json":       &JSONDecoder{},
			".yaml":       &YAMLDecoder{},
			".yml":        &YAMLDecoder{},
			".toml":       &TOMLDecoder{},
			".properties": &PropertiesDecoder{},
		})
	return r
}

// For returns the decoder for a given file name. File name matches win over extensions.
func (r *Registry) For(filename string) (Decoder, bool) {
	base := strings.ToLower(filepath.Base(filename))
	if d, ok := r.byFilename[base]; ok {
		return d, true
	}
	d, ok := r.byExtension[filepath.Ext(base)]
	return d, ok
}

var (
	_ Decoder = (*JSONDecoder)(nil)
	_ Decoder = (*PackageJSONDecoder)(nil)
	_ Decoder = (*YAMLDecoder)(nil)
	_ Decoder = (*TOMLDecoder)(nil)
	_ Decoder = (*PropertiesDecoder)(nil)
)

// JSONDecoder reads a plain JSON object.
type JSONDecoder struct{}

func (d *JSONDecoder) Name() string {
	return "json"
}

func (d *JSONDecoder) Decode(_ context.Context, r io.Reader) (map[string]any, error) {
	var data map[string]any
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("unmarshal JSON manifest: %w", err)
	}
	return data, nil
}

// PackageJSONDecoder reads one section of an npm package.json.
// A package.json without the section contributes nothing.
type PackageJSONDecoder struct {
	Section string
}

func (d *PackageJSONDecoder) Name() string {
	return "package.json"
}

func (d *PackageJSONDecoder) Decode(ctx context.Context, r io.Reader) (map[string]any, error) {
	data, err := (&JSONDecoder{}).Decode(ctx, r)
	if err != nil {
		return nil, err
	}
	raw, ok := data[d.Section]
	if !ok {
		return map[string]any{}, nil
	}
	section, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("package.json section %q is not an object", d.Section)
	}
	return section, nil
}

// YAMLDecoder reads a YAML mapping.
type YAMLDecoder struct{}

func (d *YAMLDecoder) Name() string {
	return "yaml"
}

func (d *YAMLDecoder) Decode(ctx context.Context, r io.Reader) (map[string]any, error) {
	var data map[string]any
	if err := internal.NewYAMLDecoder(r).DecodeContext(ctx, &data); err != nil {
		if formatted, ok := internal.FormatDecodeError(err); ok {
			return nil, fmt.Errorf("parsing YAML manifest:\n%s", formatted)
		}
		return nil, fmt.Errorf("unmarshal YAML manifest: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// TOMLDecoder reads a TOML document.
type TOMLDecoder struct{}

func (d *TOMLDecoder) Name() string {
	return "toml"
}

func (d *TOMLDecoder) Decode(_ context.Context, r io.Reader) (map[string]any, error) {
	var data map[string]any
	if err := toml.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("unmarshal TOML manifest: %w", err)
	}
	return data, nil
}

// PropertiesDecoder reads a Java style .properties file. All values are strings.
type PropertiesDecoder struct{}

func (d *PropertiesDecoder) Name() string {
	return "properties"
}

func (d *PropertiesDecoder) Decode(ctx context.Context, r io.Reader) (map[string]any, error) {
	// Best-effort context check, no I/O cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p, err := properties.LoadReader(r, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load properties manifest: %w", err)
	}
	data := make(map[string]any, p.Len())
	for k, v := range p.Map() {
		data[k] = v
	}
	return data, nil
}
