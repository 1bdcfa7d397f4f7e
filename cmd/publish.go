package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sap-gg/azrelay/internal/pipeline"
	"github.com/sap-gg/azrelay/internal/publish"
)

var publishFlags = struct {
	dryRun bool
}{}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:     "publish",
	Short:   "Downloads, verifies and publishes the latest build artifact.",
	Long:    publishLongDescription,
	Example: publishExample,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(ctx, !publishFlags.dryRun)
		if err != nil {
			return err
		}
		log.Info().
			Str("definition", cfg.Azure.Definition).
			Str("branch", cfg.Azure.Branch).
			Str("artifact", cfg.Artifacts.Name).
			Msg("starting")

		client, err := newAzureClient(cfg)
		if err != nil {
			return err
		}

		var publisher publish.Publisher
		opts := []pipeline.Option{}
		if publishFlags.dryRun {
			log.Info().Msg("dry-run mode enabled, nothing will be published")
			opts = append(opts, pipeline.WithUntil(pipeline.VerifyingPair))
		} else {
			gh, err := newPublisher(cfg)
			if err != nil {
				return fmt.Errorf("creating publisher: %w", err)
			}
			publisher = gh
		}

		p := pipeline.New(cfg, client, newFetcher(cfg, client), publisher, opts...)
		result, err := p.Run(ctx)
		if err != nil {
			return err
		}

		printPublishResult(cmd.OutOrStdout(), result)
		return nil
	},
}

func printPublishResult(w io.Writer, result *pipeline.Result) {
	fmt.Fprintf(w, "build %d of definition %d\n", result.BuildID, result.DefinitionID)
	if result.Pair != nil {
		color.New(color.FgGreen).Fprintf(w, "✓ sha256 %s\n", result.Pair.Actual)
	}
	names := make([]string, 0, len(result.Uploads))
	for name := range result.Uploads {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		color.New(color.FgGreen).Fprintf(w, "+ %s", name)
		fmt.Fprintf(w, " %s\n", result.Uploads[name])
	}
}

func init() {
	rootCmd.AddCommand(publishCmd)

	flags := publishCmd.Flags()

	flags.String("repository", "", "GitHub repository as <owner>/<name> (default $GITHUB_REPOSITORY)")
	_ = viper.BindPFlag(ReleaseRepositoryKey, flags.Lookup("repository"))

	flags.String("ref", "", "release tag or refs/tags/<tag> (default $GITHUB_REF)")
	_ = viper.BindPFlag(ReleaseRefKey, flags.Lookup("ref"))

	flags.String("github-api-url", "", "GitHub API URL for GitHub Enterprise")
	_ = viper.BindPFlag(ReleaseAPIURLKey, flags.Lookup("github-api-url"))

	flags.String("github-upload-url", "", "GitHub upload URL for GitHub Enterprise")
	_ = viper.BindPFlag(ReleaseUploadURLKey, flags.Lookup("github-upload-url"))

	flags.BoolVarP(&publishFlags.dryRun, "dry-run", "n", false,
		"Download and verify the artifacts without publishing them.")
}

var (
	publishLongDescription = `The publish command looks up the latest successful build of a definition on
a branch, downloads the artifact and its checksum artifact, and checks the
extracted cache.zip against the sha256 in checksum.txt.

Only a verified pair is uploaded to the GitHub release of the tag. The assets
are named after the artifacts and a receipt of the run is written to the
working directory.

EXIT CODES
----------
0  published (or verified, with --dry-run)
1  any other failure
2  the artifact does not match its checksum
`

	publishExample = `
# Inside a GitHub Actions tag build, with settings from package.json
azrelay publish

# Verify the artifact of another branch without publishing
azrelay publish --azure-project esy-dev/esy --branch develop --dry-run

# Publish the macOS arm64 cache from a Linux runner
azrelay publish --goos darwin --goarch arm64 --ref refs/tags/v0.1.0`
)
