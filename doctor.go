package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajranjith/source-shield/internal/pipeline"
)

type doctorReport struct {
	Version    string `yaml:"version" json:"version"`
	ConfigPath string `yaml:"config_path,omitempty" json:"configPath,omitempty"`
	Status     string `yaml:"status" json:"status"`

	pipeline.Diagnosis `yaml:",inline"`
}

func (c *cli) doctorCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "doctor <project-root>",
		Short: "Report whether a project can be instrumented, without changing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "yaml" && format != "json" {
				return errors.Errorf("unsupported --format %q (yaml or json)", format)
			}
			if err := c.setup(args[0]); err != nil {
				return err
			}
			rep := c.buildDoctorReport(cmd, args[0])
			if err := c.writeDoctorReport(rep, format); err != nil {
				return err
			}
			if rep.Status != "OK" {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func (c *cli) buildDoctorReport(cmd *cobra.Command, root string) doctorReport {
	opts := c.pipelineOptions(root, "doctor")
	diag := pipeline.NewRunner().Diagnose(cmd.Context(), opts)
	status := "OK"
	if !diag.Ready {
		status = "DEGRADED"
	}
	return doctorReport{
		Version:    Version,
		ConfigPath: c.loadedFrom,
		Status:     status,
		Diagnosis:  diag,
	}
}

func (c *cli) writeDoctorReport(rep doctorReport, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintln(c.stdout, string(data))
		return nil
	}
	enc := yaml.NewEncoder(c.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(enc.Close())
}
