package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sap-gg/azrelay/internal/fetch"
	"github.com/sap-gg/azrelay/internal/logging"
	"github.com/sap-gg/azrelay/internal/pipeline"
)

var (
	cfgFile   string
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "azrelay",
	Short: "Relays verified Azure Pipelines artifacts to GitHub releases",
	Long: `azrelay finds the latest successful Azure Pipelines build of a branch,
downloads an artifact together with its checksum artifact, verifies both and
uploads the pair as assets of a GitHub release.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, configErr := initConfig()
		logCloser = logging.Init([]string{
			viper.GetString(AzureTokenKey),
			viper.GetString(ReleaseTokenKey),
		})
		if configErr != nil { // handle error after logging is initialized
			return configErr
		}
		if configPath != "" {
			log.Info().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

// Execute runs the root command and exits with the code matching the outcome.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("command execution failed")
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(pipeline.ExitCode(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.azrelay.yaml)")

	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	_ = viper.BindPFlag(logging.LogLevelKey, flags.Lookup("log-level"))

	flags.String("log-format", "console", "log format: console, json")
	_ = viper.BindPFlag(logging.LogFormatKey, flags.Lookup("log-format"))

	flags.Bool("no-color", false, "disable color output")
	_ = viper.BindPFlag(logging.LogNoColorKey, flags.Lookup("no-color"))

	flags.String("log-file", "", "also write logs to this file, rotated by size")
	_ = viper.BindPFlag(logging.LogFileKey, flags.Lookup("log-file"))

	flags.StringSlice("manifest", nil,
		"project manifests to read, later ones win (default: package.json, azrelay.{properties,toml,yml,yaml} in the current directory)")
	_ = viper.BindPFlag(ManifestKey, flags.Lookup("manifest"))

	flags.String("azure-project", "", "Azure DevOps project as <organization>/<project>")
	_ = viper.BindPFlag(AzureProjectKey, flags.Lookup("azure-project"))

	flags.String("azure-url", "", "Azure DevOps project URL, overrides --azure-project")
	_ = viper.BindPFlag(AzureURLKey, flags.Lookup("azure-url"))

	flags.String("definition", "", "build definition name (default \"esy.pesy-reason-template\")")
	_ = viper.BindPFlag(AzureDefinitionKey, flags.Lookup("definition"))

	flags.String("branch", "", "branch whose latest successful build is used (default \"master\")")
	_ = viper.BindPFlag(AzureBranchKey, flags.Lookup("branch"))

	flags.String("artifact-template", "", "template for the artifact name")
	_ = viper.BindPFlag(ArtifactTemplateKey, flags.Lookup("artifact-template"))

	flags.String("checksum-template", "", "template for the checksum artifact name")
	_ = viper.BindPFlag(ChecksumTemplateKey, flags.Lookup("checksum-template"))

	flags.String("goos", runtime.GOOS, "operating system the artifact is built for")
	_ = viper.BindPFlag(PlatformOSKey, flags.Lookup("goos"))

	flags.String("goarch", runtime.GOARCH, "architecture the artifact is built for")
	_ = viper.BindPFlag(PlatformArchKey, flags.Lookup("goarch"))

	flags.String("work-dir", ".", "working directory for downloads and the receipt")
	_ = viper.BindPFlag(WorkDirKey, flags.Lookup("work-dir"))

	flags.Int("max-redirects", fetch.DefaultMaxRedirects, "maximum number of redirects per download")
	_ = viper.BindPFlag(MaxRedirectsKey, flags.Lookup("max-redirects"))

	flags.Duration("timeout", 0, "timeout per HTTP request, 0 for none")
	_ = viper.BindPFlag(TimeoutKey, flags.Lookup("timeout"))

	viper.SetEnvPrefix("AZRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// GitHub Actions provides these without our prefix
	_ = viper.BindEnv(ReleaseRepositoryKey, "AZRELAY_RELEASE_REPOSITORY", "GITHUB_REPOSITORY")
	_ = viper.BindEnv(ReleaseRefKey, "AZRELAY_RELEASE_REF", "GITHUB_REF")
	_ = viper.BindEnv(ReleaseTokenKey, "AZRELAY_RELEASE_TOKEN", "GITHUB_TOKEN")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	// reads in config file and ENV variables if set.
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// search order: current dir, $HOME, XDG config
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}

		config, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(config + "/azrelay")
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName(".azrelay")
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundError) {
			return "", err
		}
	} else {
		return viper.ConfigFileUsed(), nil
	}

	return "", nil
}
