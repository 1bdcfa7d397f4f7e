package config

import (
	"fmt"

	"github.com/sap-gg/azrelay/internal/templ"
)

// Templates produce the artifact names of a run.
type Templates struct {
	Artifact string
	Checksum string
}

// DefaultTemplates returns the naming convention of the esy/pesy cache pipelines.
func DefaultTemplates() *Templates {
	return &Templates{
		Artifact: DefaultArtifactTemplate,
		Checksum: DefaultChecksumTemplate,
	}
}

// NameData is the data available to the name templates.
type NameData struct {
	// Platform is the Azure agent OS name: Linux, Darwin, Darwin-arm64 or Windows_NT.
	Platform string
	GOOS     string
	GOARCH   string
	// Artifact is the rendered main artifact name (checksum template only).
	Artifact string
}

// PlatformName maps a Go OS/architecture pair onto the agent OS naming used in artifact names.
func PlatformName(goos, goarch string) (string, error) {
	switch goos {
	case "linux":
		return "Linux", nil
	case "darwin":
		if goarch == "arm64" {
			return "Darwin-arm64", nil
		}
		return "Darwin", nil
	case "windows":
		return "Windows_NT", nil
	}
	return "", fmt.Errorf("unsupported platform %s/%s", goos, goarch)
}

// ResolveNames renders the templates for goos/goarch into c.Artifacts.
func (c *Config) ResolveNames(renderer *templ.Renderer, templates *Templates, goos, goarch string) error {
	platform, err := PlatformName(goos, goarch)
	if err != nil {
		return err
	}
	data := NameData{Platform: platform, GOOS: goos, GOARCH: goarch}

	name, err := renderer.Render(templates.Artifact, data)
	if err != nil {
		return fmt.Errorf("artifact name: %w", err)
	}
	data.Artifact = name

	checksumName, err := renderer.Render(templates.Checksum, data)
	if err != nil {
		return fmt.Errorf("checksum artifact name: %w", err)
	}

	c.Artifacts = Artifacts{Name: name, ChecksumName: checksumName}
	return nil
}
