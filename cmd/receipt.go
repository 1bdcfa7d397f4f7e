package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sap-gg/azrelay/internal/receipt"
)

// receiptCmd prints the receipt a finished publish run left in its working directory.
var receiptCmd = &cobra.Command{
	Use:   "receipt [dir]",
	Short: "Shows the receipt of the last publish run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString(WorkDirKey)
		if len(args) == 1 {
			dir = args[0]
		}

		r, err := receipt.Read(dir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s build %d (definition %d)", r.Definition, r.BuildID, r.DefinitionID)
		if r.Tag != "" {
			fmt.Fprintf(out, " released as %s", r.Tag)
		}
		fmt.Fprintf(out, " at %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

		names := make([]string, 0, len(r.Assets))
		for name := range r.Assets {
			names = append(names, name)
		}
		slices.Sort(names)

		width := 0
		for _, name := range names {
			width = max(width, len(name))
		}
		for _, name := range names {
			asset := r.Assets[name]
			color.New(color.FgCyan).Fprintf(out, "%-*s", width, name)
			fmt.Fprintf(out, "  %s  %8d  %s\n", asset.Hash, asset.Size, asset.ContentType)
			if asset.URL != "" {
				fmt.Fprintf(out, "%s  %s\n", strings.Repeat(" ", width), asset.URL)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(receiptCmd)
}
