package cli

import (
	"fmt"
	"os"
	"runtime"

	"panokit/internal/logging"

	"github.com/spf13/cobra"
)

// Version is the release reported by the version command.
var Version = "0.1.0-dev"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("PANOKIT_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/panokit/config.json"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", cfgPath)
			return printJSON(cmd.OutOrStdout(), root.cfg)
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "panokit v%s\n", Version)
			fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
			v := ""
			if root.magickVersion != nil {
				v = root.magickVersion()
			}
			logging.LogToolStatus(root.log, "imagemagick", v != "", v, "", nil)
			if v == "" {
				v = "unavailable"
			}
			fmt.Fprintf(w, "ImageMagick: %s\n", v)
		},
	}
}
