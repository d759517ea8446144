// Package pipeline sequences entry-point resolution, source location and
// injection for one project, and maps each failure to its phase.
//
// A run must not overlap with another run against the same project tree:
// two runs can both pass the marker check and the later write wins. No
// locking is done.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/config"
	"github.com/ajranjith/source-shield/internal/inject"
	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/locator"
	"github.com/ajranjith/source-shield/internal/logger"
	"github.com/ajranjith/source-shield/internal/manifest"
	"github.com/ajranjith/source-shield/internal/patch"
	"github.com/ajranjith/source-shield/internal/shield"
	"github.com/ajranjith/source-shield/internal/support"
)

type Options struct {
	ProjectRoot string
	Config      config.Config
	DryRun      bool
	// Mode is recorded in the audit log ("run" or "watch").
	Mode     string
	Log      *zap.Logger
	Reporter Reporter
}

// Report is the outcome of a successful run.
type Report struct {
	RunID        string
	ProjectRoot  string
	Manifest     string
	EntryPoint   manifest.EntryPoint
	SourceRoot   string
	DefiningFile string
	Dialect      string
	Template     shield.Installed
	Result       inject.Result
	DryRun       bool
	Patch        string
	// LinesAdded counts the lines the injection adds to the defining file.
	LinesAdded int
	SnapshotID string
}

// Runner holds the phase implementations. Tests replace them to observe
// which phases ran.
type Runner struct {
	ResolveEntryPoint func(manifestPath string, log *zap.Logger) (manifest.EntryPoint, error)
	LocateFile        func(sourceRoot, name string, opts locator.Options) (locator.Match, error)
}

func NewRunner() *Runner {
	return &Runner{
		ResolveEntryPoint: manifest.ResolveEntryPoint,
		LocateFile:        locator.LocateDefiningFile,
	}
}

// Run executes one pipeline run with the default phase implementations.
func Run(ctx context.Context, opts Options) (Report, error) {
	return NewRunner().Run(ctx, opts)
}

type run struct {
	opts     Options
	cfg      *config.Config
	root     string
	log      *zap.Logger
	reporter Reporter
	dialects []*lexical.Dialect
}

func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	st := &run{opts: opts, cfg: &opts.Config, log: logger.OrNop(opts.Log), reporter: opts.Reporter}
	if st.reporter == nil {
		st.reporter = nopReporter{}
	}
	rep := Report{DryRun: opts.DryRun}

	// validate
	if err := st.begin(ctx, PhaseValidate); err != nil {
		return rep, err
	}
	root, err := ValidateProject(opts.ProjectRoot, st.cfg)
	if err != nil {
		return rep, fail(PhaseValidate, KindInputValidation, err)
	}
	st.root = root
	st.dialects, err = lexical.LookupAll(st.cfg.Scan.Dialects)
	if err != nil {
		return rep, fail(PhaseValidate, KindInputValidation, errors.WithStack(err))
	}
	id, err := uuid.NewV7()
	if err != nil {
		return rep, fail(PhaseValidate, KindIO, errors.WithStack(err))
	}
	rep.RunID = id.String()
	rep.ProjectRoot = root
	rep.Manifest = st.cfg.ManifestPath(root)
	st.reporter.PhaseDone(PhaseValidate, "project "+root)

	// resolve
	if err := st.begin(ctx, PhaseResolve); err != nil {
		return rep, err
	}
	ep, err := r.ResolveEntryPoint(rep.Manifest, st.log)
	if err != nil {
		kind := classify(err)
		if kind == KindIO {
			kind = KindResolution
		}
		return rep, fail(PhaseResolve, kind, err)
	}
	rep.EntryPoint = ep
	st.log.Debug("entry point resolved", zap.String("activity", ep.QualifiedName), zap.Int("activities", ep.ActivityCount))
	st.reporter.PhaseDone(PhaseResolve, "entry activity "+ep.QualifiedName+" (class "+ep.SimpleName+")")

	// locate
	if err := st.begin(ctx, PhaseLocate); err != nil {
		return rep, err
	}
	match, sourceRoot, err := r.locate(st, ep.SimpleName)
	if err != nil {
		return rep, fail(PhaseLocate, classify(err), err)
	}
	rep.SourceRoot = sourceRoot
	rep.DefiningFile = match.Path
	rep.Dialect = match.Dialect.Name
	st.reporter.PhaseDone(PhaseLocate, st.rel(match.Path))

	// plan
	if err := st.begin(ctx, PhasePlan); err != nil {
		return rep, err
	}
	engine := inject.NewEngine(st.log, st.cfg.MaskComments())
	plan, err := engine.Plan(match.Path, match.Dialect)
	if err != nil {
		return rep, fail(PhasePlan, classify(err), err)
	}
	if err := inject.Verify(plan); err != nil {
		return rep, fail(PhasePlan, KindInjectionAnchor, err)
	}
	if plan.Skipped {
		st.reporter.PhaseDone(PhasePlan, "marker "+lexical.Marker+" already present")
	} else {
		st.reporter.PhaseDone(PhasePlan, "import "+string(plan.ImportAnchor)+", call "+string(plan.CallAnchor))
	}

	rep.LinesAdded, _ = patch.Stats(plan.Original, plan.Mutated)
	if opts.DryRun {
		rep.Result = inject.Preview(plan)
		rep.Patch = patch.Unified(filepath.ToSlash(st.rel(match.Path)), plan.Original, plan.Mutated)
		st.reporter.Patch(match.Path, rep.Patch)
		return rep, nil
	}

	// install
	if err := st.begin(ctx, PhaseInstall); err != nil {
		return rep, err
	}
	installed, err := shield.Install(sourceRoot, match.Dialect)
	if err != nil {
		return rep, fail(PhaseInstall, KindIO, err)
	}
	rep.Template = installed
	if installed.Changed {
		st.reporter.PhaseDone(PhaseInstall, "copied "+st.rel(installed.Path))
	} else {
		st.reporter.PhaseDone(PhaseInstall, st.rel(installed.Path)+" up to date")
	}

	// commit
	if err := st.begin(ctx, PhaseCommit); err != nil {
		return rep, err
	}
	res, err := engine.Apply(plan)
	if err != nil {
		return rep, fail(PhaseCommit, KindIO, err)
	}
	rep.Result = res
	if res.Outcome == inject.Applied {
		st.reporter.PhaseDone(PhaseCommit, "wrote "+st.rel(res.Path))
	} else {
		st.reporter.PhaseDone(PhaseCommit, "already instrumented, nothing written")
	}
	rep.SnapshotID = st.record(rep, plan)
	return rep, nil
}

// locate searches each configured source root in order.
func (r *Runner) locate(st *run, name string) (locator.Match, string, error) {
	opts := locator.Options{
		Dialects: st.dialects,
		Mask:     st.cfg.MaskComments(),
		SkipDirs: st.cfg.Scan.SkipDirs,
		Log:      st.log,
	}
	var lastErr error
	for _, sourceRoot := range st.cfg.SourceRootPaths(st.root) {
		m, err := r.LocateFile(sourceRoot, name, opts)
		switch {
		case err == nil:
			return m, sourceRoot, nil
		case errors.Is(err, locator.ErrSourceRootNotFound):
			st.log.Debug("source root missing", zap.String("root", sourceRoot))
			if lastErr == nil {
				lastErr = err
			}
		case errors.Is(err, locator.ErrDefiningFileNotFound):
			lastErr = err
		default:
			return locator.Match{}, "", err
		}
	}
	if lastErr == nil {
		lastErr = errors.WithStack(locator.ErrSourceRootNotFound)
	}
	return locator.Match{}, "", lastErr
}

// record writes the backup and audit entry after a successful commit.
// Failures here are logged; the source change already happened.
func (st *run) record(rep Report, plan *inject.Plan) string {
	stateDir := st.cfg.StateDirPath(st.root)
	var snapshotID string
	if rep.Result.Outcome == inject.Applied && st.cfg.BackupsEnabled() {
		snap, err := support.SaveSnapshot(stateDir, "pre-injection", support.SnapshotContent{
			Rel:  st.rel(plan.Path),
			Data: []byte(plan.Original),
		})
		if err != nil {
			st.log.Warn("backup failed", zap.Error(err))
		} else {
			snapshotID = snap.ID
			if err := support.PruneSnapshots(stateDir, st.cfg.BackupsKeep()); err != nil {
				st.log.Warn("backup prune failed", zap.Error(err))
			}
		}
	}
	mode := st.opts.Mode
	if mode == "" {
		mode = "run"
	}
	entry := support.AuditEntry{
		RunID:        rep.RunID,
		Mode:         mode,
		Result:       rep.Result.Outcome.String(),
		EntryPoint:   rep.EntryPoint.QualifiedName,
		File:         filepath.ToSlash(st.rel(plan.Path)),
		SHA256Before: rep.Result.SHA256Before,
		SHA256After:  rep.Result.SHA256After,
		SnapshotID:   snapshotID,
	}
	if err := support.AppendAudit(stateDir, entry); err != nil {
		st.log.Warn("audit append failed", zap.Error(err))
	}
	return snapshotID
}

func (st *run) begin(ctx context.Context, p Phase) error {
	if err := ctx.Err(); err != nil {
		return fail(p, KindCanceled, err)
	}
	st.reporter.PhaseStarted(p)
	st.log.Debug("phase started", zap.String("phase", string(p)))
	return nil
}

func (st *run) rel(path string) string {
	if rel, err := filepath.Rel(st.root, path); err == nil {
		return rel
	}
	return path
}

// ValidateProject checks that root exists and holds the configured manifest.
// It returns root as an absolute path.
func ValidateProject(root string, cfg *config.Config) (string, error) {
	if root == "" {
		return "", errors.Wrap(ErrProjectNotFound, "no project root given")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.WithStack(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrProjectNotFound, "%s", abs)
		}
		return "", errors.WithStack(err)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(ErrProjectNotFound, "%s is not a directory", abs)
	}
	manifestPath := cfg.ManifestPath(abs)
	if _, err := os.Stat(manifestPath); err != nil {
		return "", errors.Wrapf(ErrInvalidProject, "missing %s", manifestPath)
	}
	return abs, nil
}
