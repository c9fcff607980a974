package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VeloF2025/PAI-sub000/internal/config"
	"github.com/VeloF2025/PAI-sub000/internal/state"
)

// #region snapshots
func newSnapshotsCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List configuration snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.backups.List()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), snaps)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAGE\tFILES\tSIZE")
			for _, s := range snaps {
				files := 0
				for _, f := range s.Files {
					if f.Status == state.FileCopied {
						files++
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, humanize.Time(s.CreatedAt), files, humanize.Bytes(dirSize(s.Dir)))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func dirSize(dir string) uint64 {
	var n uint64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			n += uint64(info.Size())
		}
		return nil
	})
	return n
}

// #endregion snapshots

// #region restore
func newRestoreCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore every artifact from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			lock, err := state.AcquireLock(a.store)
			if errors.Is(err, state.ErrLocked) {
				return errors.New("a learning cycle is running; try again later")
			}
			if err != nil {
				return err
			}
			defer lock.Release()

			cfg := config.Load(filepath.Join(a.flags.root, config.FileName)).Config
			results, err := a.backups.Restore(args[0], cfg.RollbackRemovesCreated)
			if err != nil {
				return err
			}
			for _, r := range results {
				line := fmt.Sprintf("%-8s %s", r.Status, r.Artifact)
				if r.Reason != "" {
					line += ": " + r.Reason
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed := state.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d artifact(s) not restored", len(failed))
			}
			return nil
		},
	}
}

// #endregion restore
