package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/strata/internal/nfsmount"
)

var (
	listenAddr string
	noMount    bool
)

func init() {
	mountCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:0", "NFS listen address")
	mountCmd.Flags().BoolVar(&noMount, "no-mount", false, "Only run the NFS server; do not call mount")
	rootCmd.AddCommand(mountCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Expose the merged view at --path as a read-only NFS mount",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !noMount && len(args) != 1 {
			return fmt.Errorf("mountpoint required unless --no-mount is set")
		}

		st, err := openStack()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		tfs, err := nfsmount.NewTreeFS(st.Store, viewPath)
		if err != nil {
			return err
		}
		srv, err := nfsmount.NewServer(tfs, listenAddr)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		fmt.Fprintf(cmd.ErrOrStderr(), "NFS server on port %d\n", srv.Port())

		if !noMount {
			mountPoint := args[0]
			if err := nfsmount.Mount(srv.Port(), mountPoint); err != nil {
				return err
			}
			defer func() {
				if err := nfsmount.Unmount(mountPoint); err != nil {
					glog.Errorf("unmount %s: %v", mountPoint, err)
				}
			}()
			fmt.Fprintf(cmd.ErrOrStderr(), "Mounted %s at %s (Ctrl-C to unmount)\n", viewPath, mountPoint)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}
