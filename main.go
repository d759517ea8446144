// source-shield - retrofits a runtime integrity check into an Android project
//
// Commands:
//   source-shield <project-root>           Instrument the entry activity
//   source-shield <project-root> --dry-run Print the planned change as a diff
//   source-shield <project-root> --watch   Re-run when the manifest or sources change
//   doctor <project-root>                  Read-only readiness report
//   rollback <project-root>                Restore the entry file from a backup
//   bundle <project-root>                  Zip local state for a support request
//   version                                Show version information

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/config"
	"github.com/ajranjith/source-shield/internal/logger"
	"github.com/ajranjith/source-shield/internal/pipeline"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
)

const (
	exitOK      = 0
	exitFailure = 1
)

// errUsage marks argument errors; usage text has already been printed.
var errUsage = errors.New("missing project root")

// errSilent fails the command without printing anything further.
var errSilent = errors.New("")

type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	logFormat  string
	dryRun     bool
	watch      bool

	cfg        config.Config
	loadedFrom string
	log        *zap.Logger
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: stdout, stderr: stderr, log: zap.NewNop()}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	_ = c.log.Sync()
	if err != nil {
		c.printError(err)
		return exitFailure
	}
	return exitOK
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "source-shield [flags] <project-root>",
		Short: "Inject a runtime integrity check into an Android project's entry activity",
		Long: `source-shield finds the launcher activity in AndroidManifest.xml, locates the
Kotlin or Java file that defines it and inserts a call to
SecurityShield.protect(this) into onCreate, together with its import and the
detection engine sources.

Running it again on an instrumented project changes nothing.
Do not run two instances against the same project at the same time.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runShield,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default <project-root>/"+config.DefaultConfigPath+" when present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging and stack traces on failure")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "diagnostic log format: console or json")
	root.Flags().BoolVar(&c.dryRun, "dry-run", false, "print the planned change as a unified diff and write nothing")
	root.Flags().BoolVar(&c.watch, "watch", false, "keep running and re-instrument when the manifest or sources change")

	root.AddCommand(c.doctorCmd(), c.rollbackCmd(), c.bundleCmd(), c.versionCmd())
	return root
}

// setup resolves configuration for projectRoot and builds the logger.
func (c *cli) setup(projectRoot string) error {
	cfg, loadedFrom, warnings, err := config.Resolve(config.Flags{ProjectRoot: projectRoot, ConfigPath: c.configPath})
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return errors.Errorf("config not found: %s", c.configPath)
		}
		return errors.Wrap(err, "config load failed")
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	level := cfg.Logging.Level
	if c.verbose {
		level = "debug"
	}
	log, err := logger.New(level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.loadedFrom = loadedFrom
	c.log = log
	for _, w := range warnings {
		c.log.Warn(w)
	}
	if loadedFrom != "" {
		c.log.Debug("config loaded", zap.String("path", loadedFrom))
	}
	return nil
}

func (c *cli) runShield(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		_ = cmd.Usage()
		return errUsage
	}
	if c.watch && c.dryRun {
		return errors.New("--watch and --dry-run cannot be combined")
	}
	if err := c.setup(args[0]); err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "source-shield %s\n", Version)
	opts := c.pipelineOptions(args[0], "run")
	rep, err := pipeline.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	pipeline.WriteSummary(c.stdout, rep)

	if c.watch {
		return c.watchProject(cmd.Context(), rep.ProjectRoot)
	}
	return nil
}

func (c *cli) pipelineOptions(root, mode string) pipeline.Options {
	return pipeline.Options{
		ProjectRoot: root,
		Config:      c.cfg,
		DryRun:      c.dryRun,
		Mode:        mode,
		Log:         c.log,
		Reporter:    &pipeline.TextReporter{W: c.stdout},
	}
}

func (c *cli) printError(err error) {
	switch {
	case errors.Is(err, errSilent):
		return
	case errors.Is(err, errUsage):
		fmt.Fprintf(c.stderr, "ERROR: %v\n", err)
		return
	}

	var perr *pipeline.Error
	if errors.As(err, &perr) {
		fmt.Fprintf(c.stderr, "ERROR [%s/%s]: %v\n", perr.Phase, perr.Kind, perr.Err)
		if g := perr.Guidance(); g != "" {
			fmt.Fprintf(c.stderr, "  %s\n", g)
		}
	} else {
		fmt.Fprintf(c.stderr, "ERROR: %v\n", err)
	}
	if c.verbose {
		fmt.Fprintf(c.stderr, "\n%+v\n", err)
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "source-shield v%s (built %s)\n", Version, BuildDate)
		},
	}
}
