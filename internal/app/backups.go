package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/ciwarden/internal/lock"
	"github.com/blackwell-systems/ciwarden/internal/output"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List, verify, prune and restore working tree snapshots",
	Long: `Snapshots are taken before every strategy that may change files and are
restored automatically when the strategy fails. These subcommands manage
them by hand.

Examples:
  ciwarden backups list
  ciwarden backups verify backup-20260101-120000.000
  ciwarden backups restore backup-20260101-120000.000
  ciwarden backups prune`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots beyond the retention policy",
	Args:  cobra.NoArgs,
	RunE:  runBackupsPrune,
}

var backupsVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Check a snapshot's files against their recorded hashes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsVerify,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore the allowlisted paths from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsRestore,
}

func init() {
	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd, backupsVerifyCmd, backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

func openSnapshots(cmd *cobra.Command) (*session, *snapshot.Store, error) {
	s, err := openSession(cmd, false)
	if err != nil {
		return nil, nil, err
	}
	return s, snapshot.ForConfig(s.cfg), nil
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	s, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := snaps.List()
	if err != nil {
		return err
	}
	if flagJSON {
		if list == nil {
			list = []snapshot.Metadata{}
		}
		return writeJSON(s.out.Writer(), list)
	}
	if len(list) == 0 {
		s.out.Info("no snapshots in %s", snaps.Dir())
		return nil
	}

	t := output.NewTable("ID", "CREATED", "REASON", "FILES", "SIZE", "COMMIT")
	for _, m := range list {
		if m.Broken != "" {
			t.AddRow(m.ID, "-", output.StyleError.Render("broken: "+m.Broken), "-", "-", "-")
			continue
		}
		t.AddRow(m.ID, output.Ago(m.CreatedAt), m.Reason, fmt.Sprintf("%d", len(m.Files)), output.Bytes(m.TotalSize), shortHash(m.GitCommit))
	}
	t.Fprint(s.out.Writer())
	return nil
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	s, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := snaps.Prune(time.Now())
	if flagJSON {
		if removed == nil {
			removed = []string{}
		}
		if encErr := writeJSON(s.out.Writer(), map[string]any{"removed": removed}); encErr != nil {
			return encErr
		}
		return err
	}
	for _, id := range removed {
		s.out.OK("removed %s", id)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		s.out.Info("nothing to prune (keep_last %d)", s.cfg.Retention.KeepLast)
	}
	return nil
}

func runBackupsVerify(cmd *cobra.Command, args []string) error {
	s, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := snaps.Verify(args[0]); err != nil {
		return err
	}
	s.out.OK("%s is intact", args[0])
	return nil
}

func runBackupsRestore(cmd *cobra.Command, args []string) error {
	s, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	lease, err := lock.Acquire(s.cfg.Path(s.cfg.LockPath))
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release() }()

	if err := snaps.Restore(cmd.Context(), args[0]); err != nil {
		return err
	}
	s.out.OK("restored %s", args[0])
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return orDash(h)
}
