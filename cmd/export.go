package cmd

import (
	"bytes"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/agentic-research/strata/internal/doc"
)

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (replaced atomically)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the merged view at --path to a JSON file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		n, err := st.Store.Read(viewPath)
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("nothing at %s", viewPath)
		}

		data := append(doc.Marshal(n, 2), '\n')
		if err := atomic.WriteFile(exportOut, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s (%d bytes) to %s\n", viewPath, len(data), exportOut)
		return nil
	},
}
