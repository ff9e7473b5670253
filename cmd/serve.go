package cmd

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/strata/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		glog.Infof("serving %d fragments from %s over stdio", st.Store.Stats().Fragments, manifestPath)
		return mcpserver.New(st.Store, Version).ServeStdio()
	},
}
