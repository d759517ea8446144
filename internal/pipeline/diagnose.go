package pipeline

import (
	"context"
	"path/filepath"

	"github.com/ajranjith/source-shield/internal/inject"
	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/logger"
	"github.com/ajranjith/source-shield/internal/shield"
	"github.com/ajranjith/source-shield/internal/support"
)

// Diagnosis is the read-only readiness report behind the doctor command.
type Diagnosis struct {
	ProjectRoot   string              `yaml:"project_root" json:"projectRoot"`
	Manifest      string              `yaml:"manifest" json:"manifest"`
	EntryPoint    string              `yaml:"entry_point,omitempty" json:"entryPoint,omitempty"`
	ActivityCount int                 `yaml:"activity_count,omitempty" json:"activityCount,omitempty"`
	DefiningFile  string              `yaml:"defining_file,omitempty" json:"definingFile,omitempty"`
	Dialect       string              `yaml:"dialect,omitempty" json:"dialect,omitempty"`
	Instrumented  bool                `yaml:"instrumented" json:"instrumented"`
	ImportAnchor  string              `yaml:"import_anchor,omitempty" json:"importAnchor,omitempty"`
	CallAnchor    string              `yaml:"call_anchor,omitempty" json:"callAnchor,omitempty"`
	Template      string              `yaml:"template,omitempty" json:"template,omitempty"`
	Snapshots     int                 `yaml:"snapshots" json:"snapshots"`
	LastRun       *support.AuditEntry `yaml:"last_run,omitempty" json:"lastRun,omitempty"`
	Ready         bool                `yaml:"ready" json:"ready"`
	Problems      []Problem           `yaml:"problems,omitempty" json:"problems,omitempty"`
}

type Problem struct {
	Phase    Phase  `yaml:"phase" json:"phase"`
	Kind     string `yaml:"kind" json:"kind"`
	Message  string `yaml:"message" json:"message"`
	Guidance string `yaml:"guidance,omitempty" json:"guidance,omitempty"`
}

// Diagnose runs the read-only phases and reports where a run would stop.
// It never writes to the project.
func (r *Runner) Diagnose(ctx context.Context, opts Options) Diagnosis {
	st := &run{opts: opts, cfg: &opts.Config, log: logger.OrNop(opts.Log), reporter: nopReporter{}}
	d := Diagnosis{ProjectRoot: opts.ProjectRoot}

	problem := func(e *Error) Diagnosis {
		d.Problems = append(d.Problems, Problem{
			Phase:    e.Phase,
			Kind:     e.Kind.String(),
			Message:  e.Err.Error(),
			Guidance: e.Guidance(),
		})
		return d
	}

	root, err := ValidateProject(opts.ProjectRoot, st.cfg)
	if err != nil {
		return problem(fail(PhaseValidate, KindInputValidation, err))
	}
	st.root = root
	d.ProjectRoot = root
	d.Manifest = st.rel(st.cfg.ManifestPath(root))
	if st.dialects, err = lexical.LookupAll(st.cfg.Scan.Dialects); err != nil {
		return problem(fail(PhaseValidate, KindInputValidation, err))
	}

	stateDir := st.cfg.StateDirPath(root)
	if ids, err := support.ListSnapshots(stateDir); err == nil {
		d.Snapshots = len(ids)
	}
	if entries, err := support.ReadAudit(stateDir); err == nil && len(entries) > 0 {
		last := entries[len(entries)-1]
		d.LastRun = &last
	}

	if err := ctx.Err(); err != nil {
		return problem(fail(PhaseResolve, KindCanceled, err))
	}
	ep, err := r.ResolveEntryPoint(st.cfg.ManifestPath(root), st.log)
	if err != nil {
		kind := classify(err)
		if kind == KindIO {
			kind = KindResolution
		}
		return problem(fail(PhaseResolve, kind, err))
	}
	d.EntryPoint = ep.QualifiedName
	d.ActivityCount = ep.ActivityCount

	match, sourceRoot, err := r.locate(st, ep.SimpleName)
	if err != nil {
		return problem(fail(PhaseLocate, classify(err), err))
	}
	d.DefiningFile = filepath.ToSlash(st.rel(match.Path))
	d.Dialect = match.Dialect.Name

	state, err := shield.Status(sourceRoot, match.Dialect)
	if err != nil {
		return problem(fail(PhaseInstall, KindIO, err))
	}
	d.Template = string(state)

	plan, err := inject.NewEngine(st.log, st.cfg.MaskComments()).Plan(match.Path, match.Dialect)
	if err != nil {
		return problem(fail(PhasePlan, classify(err), err))
	}
	d.Instrumented = plan.Skipped
	d.ImportAnchor = string(plan.ImportAnchor)
	d.CallAnchor = string(plan.CallAnchor)
	if err := inject.Verify(plan); err != nil {
		return problem(fail(PhasePlan, KindInjectionAnchor, err))
	}
	d.Ready = true
	return d
}
