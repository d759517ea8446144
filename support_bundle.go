package main

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ajranjith/source-shield/internal/pipeline"
	"github.com/ajranjith/source-shield/internal/support"
)

func (c *cli) bundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <project-root>",
		Short: "Zip the audit log, snapshots metadata and a doctor report for a support request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(args[0]); err != nil {
				return err
			}
			root, err := pipeline.ValidateProject(args[0], &c.cfg)
			if err != nil {
				return err
			}
			rep := c.buildDoctorReport(cmd, root)
			out, err := writeSupportBundle(c.cfg.StateDirPath(root), rep, c.loadedFrom)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Support bundle written to %s\n", out)
			return nil
		},
	}
}

// writeSupportBundle zips the state directory's audit log, snapshot
// descriptors, the config file and rep into <stateDir>/support-bundle_<ts>.zip.
// Source files are never included.
func writeSupportBundle(stateDir string, rep doctorReport, configPath string) (string, error) {
	name := fmt.Sprintf("support-bundle_%s.zip", time.Now().UTC().Format("20060102_150405"))
	outPath := filepath.Join(stateDir, name)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}

	f, err := os.CreateTemp(stateDir, "."+name+".tmp-*")
	if err != nil {
		return "", errors.WithStack(err)
	}
	tmpPath := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", errors.WithStack(err)
	}

	zipw := zip.NewWriter(f)

	doctorJSON, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := addBytesToZip(zipw, "doctor.json", doctorJSON); err != nil {
		return fail(err)
	}

	candidates := map[string]string{
		"audit.log": filepath.Join(stateDir, "audit.log"),
	}
	if configPath != "" {
		candidates["config.yml"] = configPath
	}
	ids, err := support.ListSnapshots(stateDir)
	if err != nil {
		return fail(err)
	}
	for _, id := range ids {
		candidates["backups/"+id+"/snapshot.json"] = filepath.Join(stateDir, "backups", id, "snapshot.json")
	}

	for _, entry := range sortedKeys(candidates) {
		path := candidates[entry]
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := addFileToZip(zipw, path, entry); err != nil {
			return fail(err)
		}
	}

	if err := zipw.Close(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.WithStack(err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.WithStack(err)
	}
	return outPath, nil
}

func addFileToZip(zipw *zip.Writer, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return addBytesToZip(zipw, name, data)
}

func addBytesToZip(zipw *zip.Writer, name string, data []byte) error {
	w, err := zipw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
