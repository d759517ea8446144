package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/ajranjith/source-shield/internal/inject"
)

// Phase is one step of a run, in execution order.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseResolve  Phase = "resolve"
	PhaseLocate   Phase = "locate"
	PhasePlan     Phase = "plan"
	PhaseInstall  Phase = "install"
	PhaseCommit   Phase = "commit"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseValidate, PhaseResolve, PhaseLocate, PhasePlan, PhaseInstall, PhaseCommit}

var phaseTitles = map[Phase]string{
	PhaseValidate: "Checking project layout",
	PhaseResolve:  "Resolving entry point from manifest",
	PhaseLocate:   "Locating defining source file",
	PhasePlan:     "Planning injection",
	PhaseInstall:  "Installing shield template",
	PhaseCommit:   "Writing instrumented file",
}

func (p Phase) Title() string {
	if t, ok := phaseTitles[p]; ok {
		return t
	}
	return string(p)
}

// Reporter receives user-facing progress. Diagnostics go to the logger.
type Reporter interface {
	PhaseStarted(p Phase)
	PhaseDone(p Phase, detail string)
	Patch(path, diff string)
}

type nopReporter struct{}

func (nopReporter) PhaseStarted(Phase) {}

func (nopReporter) PhaseDone(Phase, string) {}

func (nopReporter) Patch(string, string) {}

// TextReporter prints numbered phase banners to W.
type TextReporter struct {
	W io.Writer
}

var rule = strings.Repeat("═", 60)

func (r *TextReporter) PhaseStarted(p Phase) {
	fmt.Fprintf(r.W, "%s\nPHASE %d/%d: %s\n%s\n", rule, phaseIndex(p), len(Phases), p.Title(), rule)
}

func (r *TextReporter) PhaseDone(_ Phase, detail string) {
	if detail != "" {
		fmt.Fprintf(r.W, "  ✓ %s\n", detail)
	}
}

func (r *TextReporter) Patch(_ string, diff string) {
	if diff == "" {
		fmt.Fprintln(r.W, "  (no changes)")
		return
	}
	fmt.Fprint(r.W, diff)
}

func phaseIndex(p Phase) int {
	for i, q := range Phases {
		if q == p {
			return i + 1
		}
	}
	return 0
}

// WriteSummary prints the outcome of a successful run.
func WriteSummary(w io.Writer, rep Report) {
	fmt.Fprintln(w, rule)
	switch {
	case rep.DryRun && rep.Result.Outcome == inject.Applied:
		fmt.Fprintf(w, "DRY RUN: %s would be instrumented (line %d, %d lines added). Nothing was written.\n", rep.DefiningFile, rep.Result.CallLine, rep.LinesAdded)
	case rep.Result.Outcome == inject.Skipped:
		fmt.Fprintf(w, "SKIPPED: %s is already instrumented. Nothing was changed.\n", rep.DefiningFile)
	default:
		fmt.Fprintf(w, "APPLIED: %s instrumented (protection call at line %d).\n", rep.DefiningFile, rep.Result.CallLine)
		if rep.SnapshotID != "" {
			fmt.Fprintf(w, "Backup: %s (undo with `source-shield rollback %s --to %s`)\n", rep.SnapshotID, rep.ProjectRoot, rep.SnapshotID)
		}
	}
	fmt.Fprintln(w, rule)
	if rep.DryRun {
		return
	}
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Sync the Gradle project and rebuild the app.")
	fmt.Fprintln(w, "  2. Launch on a device: the check runs at startup in the entry activity.")
	fmt.Fprintln(w, "  3. On an emulator, a rooted device or with a debugger attached the app closes immediately.")
}
