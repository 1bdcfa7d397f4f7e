package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sap-gg/azrelay/internal/pipeline"
)

// resolveCmd prints where the artifacts of the latest build can be downloaded.
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Prints the download URLs of the latest build artifacts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(ctx, false)
		if err != nil {
			return err
		}
		client, err := newAzureClient(cfg)
		if err != nil {
			return err
		}

		p := pipeline.New(cfg, client, newFetcher(cfg, client), nil,
			pipeline.WithUntil(pipeline.ResolvingArtifacts))
		result, err := p.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "definition\t%d\n", result.DefinitionID)
		fmt.Fprintf(out, "build\t%d\n", result.BuildID)
		fmt.Fprintf(out, "%s\t%s\n", result.Artifact.Name, result.Artifact.DownloadURL())
		fmt.Fprintf(out, "%s\t%s\n", result.ChecksumArtifact.Name, result.ChecksumArtifact.DownloadURL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
