// Command backuppeerctl is a thin operator CLI over a backuppeer node's
// on-disk state: it opens the same store and config a running backuppeerd
// uses and prints status, never reaching into the network layer directly.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"backuppeer/internal/config"
	"backuppeer/internal/logging"
	"backuppeer/internal/model"
	"backuppeer/internal/peer"
)

const defaultRetention = 30 * 24 * time.Hour

func main() {
	root := &cobra.Command{Use: "backuppeerctl"}
	root.AddCommand(statusCmd())
	root.AddCommand(backupsCmd())
	root.AddCommand(commitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openNode() (*peer.Node, error) {
	cfg, err := config.Load(os.Getenv("BACKUPPEER_ENV"))
	if err != nil {
		return nil, err
	}
	return peer.New(cfg, logging.NewNoop())
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print this node's configured home directory and store path",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode()
			if err != nil {
				return err
			}
			defer n.Stop()
			fmt.Printf("home: %s\n", n.Config.Home)
			fmt.Printf("store: %s\n", n.Config.Store.Path)
			return nil
		},
	}
}

func backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "list locally known backups and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode()
			if err != nil {
				return err
			}
			defer n.Stop()
			for _, status := range []model.BackupStatus{
				model.BackupActive, model.BackupCompleted, model.BackupFailed,
				model.BackupCancelled, model.BackupPaused,
			} {
				backups, err := n.Store.ListBackupsByStatus(status)
				if err != nil {
					return err
				}
				for _, b := range backups {
					fmt.Printf("%s\t%s\t%s\t%d files\t%d bytes\n", b.ID, b.Name, b.Status, b.FileCount, b.TotalBytes)
				}
			}
			return nil
		},
	}
}

func commitCmd() *cobra.Command {
	var bytesOffered int64
	var terms string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "print a freshly signed storage commitment for this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode()
			if err != nil {
				return err
			}
			defer n.Stop()
			c := n.BuildCommitment(bytesOffered, terms, defaultRetention)
			fmt.Printf("peer_id: %s\noffered_bytes: %d\nexpires_at: %s\n", c.PeerID, c.BytesOffered, c.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().Int64Var(&bytesOffered, "bytes", 1<<30, "bytes offered for storage")
	cmd.Flags().StringVar(&terms, "terms", "best-effort", "availability terms string")
	return cmd
}
