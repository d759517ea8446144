package pipeline

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/ajranjith/source-shield/internal/inject"
	"github.com/ajranjith/source-shield/internal/locator"
	"github.com/ajranjith/source-shield/internal/manifest"
)

var (
	ErrProjectNotFound = errors.New("project root not found")
	ErrInvalidProject  = errors.New("not a valid Android project")
)

// Kind classifies a failure for reporting.
type Kind int

const (
	KindInputValidation Kind = iota + 1
	KindResolution
	KindInjectionAnchor
	KindIO
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input-validation"
	case KindResolution:
		return "resolution"
	case KindInjectionAnchor:
		return "injection-anchor"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a pipeline failure tagged with the phase it happened in.
type Error struct {
	Phase Phase
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Format prints the wrapped error's stack trace for %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s: %+v", e.Phase, e.Err)
		return
	}
	_, _ = io.WriteString(s, e.Error())
}

// Guidance is a short hint on what to do about the failure.
func (e *Error) Guidance() string {
	switch e.Kind {
	case KindInputValidation:
		return "Pass the root directory of an Android project (the one containing app/src/main/AndroidManifest.xml)."
	case KindResolution:
		return "The manifest must declare an activity with the android.intent.action.MAIN action, defined in a source file under a configured source root."
	case KindInjectionAnchor:
		return "The entry file could not be instrumented automatically. Add `import com.security.shield.SecurityShield` and call `SecurityShield.protect(this)` right after super.onCreate(...) by hand. No file was modified."
	case KindIO:
		return "Writes are atomic, so the entry file is either untouched or fully updated. Check permissions and disk space, then run again."
	default:
		return ""
	}
}

func fail(phase Phase, kind Kind, err error) *Error {
	return &Error{Phase: phase, Kind: kind, Err: err}
}

// classify maps a component error to its Kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrInvalidProject),
		errors.Is(err, manifest.ErrManifestNotFound):
		return KindInputValidation
	case errors.Is(err, manifest.ErrNoActivitiesDeclared),
		errors.Is(err, manifest.ErrNoMainEntryPoint),
		errors.Is(err, locator.ErrSourceRootNotFound),
		errors.Is(err, locator.ErrDefiningFileNotFound):
		return KindResolution
	case errors.Is(err, inject.ErrNoInjectionAnchor),
		errors.Is(err, inject.ErrEntryMethodNotFound):
		return KindInjectionAnchor
	default:
		return KindIO
	}
}
