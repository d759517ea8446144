package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/inject"
	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/pipeline"
	"github.com/ajranjith/source-shield/internal/support"
)

func (c *cli) rollbackCmd() *cobra.Command {
	var to string
	var list bool
	cmd := &cobra.Command{
		Use:   "rollback <project-root>",
		Short: "Restore the entry file from the backup taken before an injection",
		Long: `Restores the files captured by a backup snapshot. Without --to the most
recent snapshot is used. The files being replaced are saved as a new snapshot
first, so a rollback can itself be rolled back. The shield template is left in
place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(args[0]); err != nil {
				return err
			}
			root, err := pipeline.ValidateProject(args[0], &c.cfg)
			if err != nil {
				return err
			}
			stateDir := c.cfg.StateDirPath(root)
			if list {
				return c.listSnapshots(stateDir)
			}
			return c.rollbackTo(root, stateDir, to)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "snapshot id to restore (default: latest)")
	cmd.Flags().BoolVar(&list, "list", false, "list available snapshots")
	return cmd
}

func (c *cli) listSnapshots(stateDir string) error {
	ids, err := support.ListSnapshots(stateDir)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(c.stdout, "No backups available.")
		return nil
	}
	for _, id := range ids {
		snap, err := support.LoadSnapshot(stateDir, id)
		if err != nil {
			c.log.Warn("unreadable snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		for _, f := range snap.Files {
			fmt.Fprintf(c.stdout, "%s  %s  %s\n", snap.ID, snap.CreatedAtUtc, f.Path)
		}
	}
	return nil
}

func (c *cli) rollbackTo(root, stateDir, id string) error {
	if id == "" {
		ids, err := support.ListSnapshots(stateDir)
		if err != nil {
			return errors.WithStack(err)
		}
		if len(ids) == 0 {
			return errors.WithStack(support.ErrNoSnapshots)
		}
		id = ids[len(ids)-1]
	}
	snap, err := support.LoadSnapshot(stateDir, id)
	if err != nil {
		return errors.WithStack(err)
	}

	dialects, err := lexical.LookupAll(c.cfg.Scan.Dialects)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, f := range snap.Files {
		c.checkDrift(root, f, dialects)
	}

	var current []string
	for _, f := range snap.Files {
		path := filepath.Join(root, filepath.FromSlash(f.Path))
		if _, err := os.Stat(path); err == nil {
			current = append(current, path)
		}
	}
	if len(current) > 0 && c.cfg.BackupsEnabled() {
		saved, err := support.CreateSnapshot(stateDir, root, "pre-rollback", current...)
		if err != nil {
			return errors.Wrap(err, "save current state")
		}
		fmt.Fprintf(c.stdout, "Current state saved as %s.\n", saved.ID)
	}

	if _, err := support.RestoreSnapshot(stateDir, root, id); err != nil {
		return errors.Wrapf(err, "restore snapshot %s", id)
	}
	audit := support.AuditEntry{Mode: "rollback", Result: "restored", SnapshotID: id}
	if len(snap.Files) > 0 {
		audit.File = snap.Files[0].Path
	}
	if err := support.AppendAudit(stateDir, audit); err != nil {
		c.log.Warn("audit append failed", zap.Error(err))
	}
	fmt.Fprintf(c.stdout, "Restored %d file(s) from snapshot %s.\n", len(snap.Files), id)
	return nil
}

// checkDrift warns when the current file is more than the snapshot plus the
// injection, meaning edits made after the injection are about to be lost.
func (c *cli) checkDrift(root string, f support.SnapshotFile, dialects []*lexical.Dialect) {
	path := filepath.Join(root, filepath.FromSlash(f.Path))
	d := lexical.ForPath(dialects, path)
	if d == nil {
		return
	}
	current, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if support.HashBytes([]byte(inject.Strip(string(current), d))) != f.SHA256 {
		fmt.Fprintf(c.stdout, "NOTE: %s changed after the injection; restoring discards those changes.\n", f.Path)
	}
}
