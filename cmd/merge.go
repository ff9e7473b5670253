package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/strata/internal/doc"
)

var (
	querySelector string
	indent        int
)

func init() {
	mergeCmd.Flags().StringVarP(&querySelector, "query", "q", "", "JSONPath selector applied to the merged view")
	mergeCmd.Flags().IntVar(&indent, "indent", 2, "JSON indentation (0 for compact)")
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Print the merged view at --path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStack()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		var out doc.Node
		if querySelector != "" {
			matches, err := st.Store.Query(viewPath, querySelector)
			if err != nil {
				return err
			}
			out = doc.Array(matches)
		} else {
			out, err = st.Store.Read(viewPath)
			if err != nil {
				return err
			}
			if out == nil {
				return fmt.Errorf("nothing at %s", viewPath)
			}
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc.Marshal(out, indent)))
		return err
	},
}
