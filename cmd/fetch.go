package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sap-gg/azrelay/internal/cache"
	"github.com/sap-gg/azrelay/internal/checksum"
	"github.com/sap-gg/azrelay/internal/config"
)

var fetchFlags = struct {
	cacheDir string
	jobs     int
}{}

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <url#checksum>...",
	Short: "Downloads checksummed URLs through the local cache.",
	Long: `The fetch command resolves each reference through the content addressed
cache and prints the local path. A reference is a URL with the expected
checksum as fragment, either "<algorithm>:<hex>" or a bare sha1 "<hex>".

Files already in the cache with a matching checksum are not downloaded again.`,
	Example: `
azrelay fetch "https://example.com/cache.zip#sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		refs := make([]checksum.Reference, 0, len(args))
		for _, arg := range args {
			ref, err := checksum.ParseReference(arg)
			if err != nil {
				return fmt.Errorf("parsing %q: %w", arg, err)
			}
			refs = append(refs, ref)
		}

		cfg := config.Default()
		cfg.HTTP.MaxRedirects = viper.GetInt(MaxRedirectsKey)
		cfg.HTTP.Timeout = viper.GetDuration(TimeoutKey)

		c, err := cache.New(fetchFlags.cacheDir, newFetcher(cfg, nil))
		if err != nil {
			return err
		}

		paths := make([]string, len(refs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(fetchFlags.jobs, 1))
		for i, ref := range refs {
			g.Go(func() error {
				path, err := c.Resolve(gctx, ref)
				if err != nil {
					return fmt.Errorf("fetching %s: %w", ref.URL, err)
				}
				paths[i] = path
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		stats := c.Stats()
		log.Info().
			Int64("hits", stats.Hits).
			Int64("fetches", stats.Fetches).
			Msg("cache resolved")

		out := cmd.OutOrStdout()
		for _, path := range paths {
			color.New(color.FgGreen).Fprint(out, "✓ ")
			fmt.Fprintln(out, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchFlags.cacheDir, "cache-dir", cache.DefaultDir(os.TempDir()),
		"Directory of the download cache.")
	fetchCmd.Flags().IntVarP(&fetchFlags.jobs, "jobs", "j", 4,
		"Number of parallel downloads.")
}
