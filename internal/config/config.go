// Package config holds the explicit configuration value handed to every
// component. It is assembled by the CLI; nothing here reads process state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/azure"
	"github.com/sap-gg/azrelay/internal/fetch"
	"github.com/sap-gg/azrelay/internal/manifest"
)

const (
	DefaultDefinition       = "esy.pesy-reason-template"
	DefaultBranch           = "master"
	DefaultArtifactTemplate = "Cache-{{ .Platform }}-install-v1"
	DefaultChecksumTemplate = "{{ .Artifact }}-checksum"
	DefaultStatusFilter     = "completed"
	DefaultResultFilter     = "succeeded"
)

// Azure selects the build to take artifacts from.
type Azure struct {
	// URL is the project URL, e.g. https://dev.azure.com/<org>/<project>.
	URL          string `validate:"required,url"`
	Token        string
	Definition   string `validate:"required"`
	Branch       string `validate:"required"`
	StatusFilter string
	ResultFilter string
	APIVersion   string `validate:"required"`
}

// Artifacts names the artifact pair of one run.
type Artifacts struct {
	Name         string `validate:"required"`
	ChecksumName string `validate:"required,nefield=Name"`
}

// Release is the publish target.
type Release struct {
	// Repository is "owner/name".
	Repository string `validate:"required,slug"`
	// Ref is the triggering ref, "refs/tags/<tag>" or a bare tag.
	Ref       string `validate:"required,tagref"`
	Token     string `validate:"required"`
	APIURL    string `validate:"omitempty,url"`
	UploadURL string `validate:"omitempty,url"`
}

// Owner returns the owner part of Repository.
func (r Release) Owner() string {
	owner, _, _ := strings.Cut(r.Repository, "/")
	return owner
}

// Repo returns the name part of Repository.
func (r Release) Repo() string {
	_, repo, _ := strings.Cut(r.Repository, "/")
	return repo
}

// HTTP tunes the network clients.
type HTTP struct {
	MaxRedirects int           `validate:"gte=0"`
	Timeout      time.Duration `validate:"gte=0"`
	UserAgent    string
}

// Config is the complete configuration of a run.
type Config struct {
	Azure     Azure
	Artifacts Artifacts
	// Release is ignored when SkipPublish is set.
	Release Release
	HTTP    HTTP

	WorkDir     string `validate:"required"`
	SkipPublish bool
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Azure: Azure{
			Definition:   DefaultDefinition,
			Branch:       DefaultBranch,
			StatusFilter: DefaultStatusFilter,
			ResultFilter: DefaultResultFilter,
			APIVersion:   azure.DefaultAPIVersion,
		},
		HTTP: HTTP{
			MaxRedirects: fetch.DefaultMaxRedirects,
			UserAgent:    internal.UserAgent,
		},
	}
}

// Validate checks the configuration. Release settings are only required when publishing.
func (c *Config) Validate() error {
	v := internal.Validator()
	if err := v.StructExcept(c, "Release"); err != nil {
		return internal.ValidationSummary(err)
	}
	if c.SkipPublish {
		return nil
	}
	if err := v.Struct(&c.Release); err != nil {
		return internal.ValidationSummary(err)
	}
	return nil
}

// ApplyManifest copies non-empty manifest values over the current ones.
// Artifact names are rendered later by ResolveNames from the templates.
func (c *Config) ApplyManifest(m *manifest.Manifest, templates *Templates) {
	if m == nil {
		return
	}
	if m.AzureURL != "" {
		c.Azure.URL = m.AzureURL
	} else if m.AzureProject != "" {
		c.Azure.URL = azure.ProjectURL(m.AzureProject)
	}
	setIfNotEmpty(&c.Azure.Definition, m.Definition)
	setIfNotEmpty(&c.Azure.Branch, m.Branch)
	if templates != nil {
		setIfNotEmpty(&templates.Artifact, m.ArtifactTemplate)
		setIfNotEmpty(&templates.Checksum, m.ChecksumTemplate)
	}
}

func setIfNotEmpty(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("azure=%s definition=%s branch=%s artifact=%s checksum=%s",
		c.Azure.URL, c.Azure.Definition, c.Azure.Branch, c.Artifacts.Name, c.Artifacts.ChecksumName)
}
