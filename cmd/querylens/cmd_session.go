package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spboyer/querylens/internal/projectconfig"
	"github.com/spboyer/querylens/internal/session"
	"github.com/spf13/cobra"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "View recorded session logs",
		Long: `View query session event logs.

Session logs are NDJSON files written by "querylens query" when
session_log.enabled is set in .querylens.yaml or --session-log is passed.
They record each submission, its results, every evaluation status change,
stalls, failures and supersessions.`,
	}

	cmd.AddCommand(newSessionListCommand())
	cmd.AddCommand(newSessionViewCommand())

	return cmd
}

func newSessionListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded session logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := sessionDir(dir)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			files, err := session.ListSessions(absDir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintln(w, "No session logs found.") //nolint:errcheck
					return nil
				}
				return fmt.Errorf("listing sessions: %w", err)
			}

			if len(files) == 0 {
				fmt.Fprintln(w, "No session logs found.") //nolint:errcheck
				return nil
			}

			fmt.Fprintf(w, "%s %s %-7s %s\n", runewidth.FillRight("File", 32), runewidth.FillRight("Modified", 19), "Queries", "First query") //nolint:errcheck
			fmt.Fprintln(w, strings.Repeat("─", 90))                                                                                          //nolint:errcheck
			for _, f := range files {
				first := runewidth.Truncate(f.FirstQuery, 30, "...")
				fmt.Fprintf(w, "%s %s %-7d %s\n", runewidth.FillRight(f.Name, 32), f.ModTime.Format("2006-01-02 15:04:05"), f.Queries, first) //nolint:errcheck
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to search for session logs (default: session_log.dir from config)")

	return cmd
}

func newSessionViewCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "view [session-file]",
		Short: "View a session timeline",
		Long: `Print the timeline of one session log.

Without an argument the most recent log in the session directory is shown.
A bare file name, as printed by "session list", is looked up in that
directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveSessionFile(dir, args)
			if err != nil {
				return err
			}
			events, err := session.ReadEvents(path)
			if err != nil {
				return fmt.Errorf("reading session: %w", err)
			}

			session.RenderTimeline(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding session logs (default: session_log.dir from config)")

	return cmd
}

// sessionDir returns flagDir, or the configured session directory when the
// flag is empty, as an absolute path.
func sessionDir(flagDir string) (string, error) {
	dir := flagDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		cfg, err := projectconfig.Load(wd)
		if err != nil {
			return "", err
		}
		dir = cfg.SessionLog.Dir
	}
	return filepath.Abs(dir)
}

func resolveSessionFile(flagDir string, args []string) (string, error) {
	if len(args) == 1 {
		name := args[0]
		if _, err := os.Stat(name); err == nil || filepath.Base(name) != name {
			return name, nil
		}
	}

	dir, err := sessionDir(flagDir)
	if err != nil {
		return "", err
	}
	if len(args) == 1 {
		return filepath.Join(dir, args[0]), nil
	}

	files, err := session.ListSessions(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no session logs in %s", dir)
	}
	return files[0].Path, nil
}
