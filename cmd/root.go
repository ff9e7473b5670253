package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agentic-research/strata/internal/manifest"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var (
	manifestPath string
	viewPath     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "strata.jsonc", "Path to the layer manifest (JSONC)")
	rootCmd.PersistentFlags().StringVarP(&viewPath, "path", "p", "/", "Store path to operate on")
	addGlogFlags(rootCmd.PersistentFlags())
}

// addGlogFlags exposes glog's -v, -logtostderr and friends on fs.
func addGlogFlags(fs *pflag.FlagSet) {
	fs.AddGoFlagSet(flag.CommandLine)
}

var rootCmd = &cobra.Command{
	Use:           "strata",
	Short:         "strata: layered document-merge store",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openStack loads the manifest named by --manifest.
func openStack() (*manifest.Stack, error) {
	st, err := manifest.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", manifestPath, err)
	}
	return st, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
