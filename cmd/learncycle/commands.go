package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// #region flags
type globalFlags struct {
	root     string
	events   string
	logLevel string
	logJSON  bool
}

// defaultRoot is $LEARN_ROOT, else ~/.claude.
func defaultRoot() string {
	if v := os.Getenv("LEARN_ROOT"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

// #endregion flags

// #region root
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "learncycle",
		Short:         "Run and inspect the session learning cycle",
		Long:          "learncycle mines recent session events for proposals, applies them to the\nconfiguration artifacts under the root, and keeps a bounded history of cycles.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.root, "root", defaultRoot(), "configuration root")
	pf.StringVar(&g.events, "events", "", "session event directory (default <root>/history/events)")
	pf.StringVar(&g.logLevel, "log-level", os.Getenv("LEARN_LOG_LEVEL"), "debug | info | warn | error")
	pf.BoolVar(&g.logJSON, "log-json", false, "log JSON to stderr")

	root.AddCommand(
		newRunCmd(g),
		newReportCmd(g),
		newHistoryCmd(g),
		newSnapshotsCmd(g),
		newRestoreCmd(g),
	)
	return root
}

// #endregion root
