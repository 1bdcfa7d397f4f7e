package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sap-gg/azrelay/internal/azure"
	"github.com/sap-gg/azrelay/internal/config"
	"github.com/sap-gg/azrelay/internal/fetch"
	"github.com/sap-gg/azrelay/internal/manifest"
	"github.com/sap-gg/azrelay/internal/publish"
	"github.com/sap-gg/azrelay/internal/templ"
)

const (
	ManifestKey = "manifest"

	AzureProjectKey      = "azure.project"
	AzureURLKey          = "azure.url"
	AzureTokenKey        = "azure.token"
	AzureDefinitionKey   = "azure.definition"
	AzureBranchKey       = "azure.branch"
	AzureStatusFilterKey = "azure.status_filter"
	AzureResultFilterKey = "azure.result_filter"
	AzureAPIVersionKey   = "azure.api_version"

	ArtifactTemplateKey = "artifact.template"
	ChecksumTemplateKey = "artifact.checksum_template"
	PlatformOSKey       = "platform.os"
	PlatformArchKey     = "platform.arch"

	ReleaseRepositoryKey = "release.repository"
	ReleaseRefKey        = "release.ref"
	ReleaseTokenKey      = "release.token"
	ReleaseAPIURLKey     = "release.api_url"
	ReleaseUploadURLKey  = "release.upload_url"

	WorkDirKey      = "work_dir"
	MaxRedirectsKey = "http.max_redirects"
	TimeoutKey      = "http.timeout"
)

// loadConfig assembles the run configuration. Precedence, highest first:
// flags, environment, config file, project manifests, built-in defaults.
func loadConfig(ctx context.Context, publishing bool) (*config.Config, error) {
	cfg := config.Default()
	templates := config.DefaultTemplates()

	manifests := viper.GetStringSlice(ManifestKey)
	if len(manifests) == 0 {
		manifests = manifest.Discover(".")
	}
	if len(manifests) > 0 {
		m, err := manifest.Load(ctx, manifest.DefaultRegistry(), manifests...)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		cfg.ApplyManifest(m, templates)
		log.Debug().Strs("files", manifests).Msg("applied project manifests")
	}

	if project := viper.GetString(AzureProjectKey); project != "" {
		cfg.Azure.URL = azure.ProjectURL(project)
	}
	override(&cfg.Azure.URL, AzureURLKey)
	override(&cfg.Azure.Token, AzureTokenKey)
	override(&cfg.Azure.Definition, AzureDefinitionKey)
	override(&cfg.Azure.Branch, AzureBranchKey)
	override(&cfg.Azure.StatusFilter, AzureStatusFilterKey)
	override(&cfg.Azure.ResultFilter, AzureResultFilterKey)
	override(&cfg.Azure.APIVersion, AzureAPIVersionKey)
	override(&templates.Artifact, ArtifactTemplateKey)
	override(&templates.Checksum, ChecksumTemplateKey)

	override(&cfg.Release.Repository, ReleaseRepositoryKey)
	override(&cfg.Release.Ref, ReleaseRefKey)
	override(&cfg.Release.Token, ReleaseTokenKey)
	override(&cfg.Release.APIURL, ReleaseAPIURLKey)
	override(&cfg.Release.UploadURL, ReleaseUploadURLKey)

	cfg.WorkDir = viper.GetString(WorkDirKey)
	cfg.HTTP.MaxRedirects = viper.GetInt(MaxRedirectsKey)
	cfg.HTTP.Timeout = viper.GetDuration(TimeoutKey)
	cfg.SkipPublish = !publishing

	err := cfg.ResolveNames(templ.NewRenderer(), templates,
		viper.GetString(PlatformOSKey), viper.GetString(PlatformArchKey))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().Stringer("config", cfg).Msg("configuration loaded")
	return cfg, nil
}

func override(dst *string, key string) {
	if v := viper.GetString(key); v != "" {
		*dst = v
	}
}

func newAzureClient(cfg *config.Config) (*azure.Client, error) {
	opts := []azure.Option{
		azure.WithAPIVersion(cfg.Azure.APIVersion),
		azure.WithUserAgent(cfg.HTTP.UserAgent),
		azure.WithTimeout(cfg.HTTP.Timeout),
	}
	if cfg.Azure.Token != "" {
		opts = append(opts, azure.WithToken(cfg.Azure.Token))
	}
	return azure.NewClient(cfg.Azure.URL, opts...)
}

func newFetcher(cfg *config.Config, azureClient *azure.Client) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithTimeout(cfg.HTTP.Timeout),
		fetch.WithMaxRedirects(cfg.HTTP.MaxRedirects),
	}
	if azureClient != nil && cfg.Azure.Token != "" {
		opts = append(opts, fetch.WithBasicAuth(azureClient.Host(), "", cfg.Azure.Token))
	}
	return fetch.New(opts...)
}

func newPublisher(cfg *config.Config) (*publish.GitHub, error) {
	var opts []publish.GitHubOption
	if cfg.Release.APIURL != "" || cfg.Release.UploadURL != "" {
		if cfg.Release.APIURL == "" || cfg.Release.UploadURL == "" {
			return nil, fmt.Errorf("release API and upload URLs must be set together")
		}
		opts = append(opts, publish.WithEndpoints(cfg.Release.APIURL, cfg.Release.UploadURL))
	}
	return publish.NewGitHub(cfg.Release.Token, nil, opts...)
}
