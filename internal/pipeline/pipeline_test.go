package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/config"
	"github.com/ajranjith/source-shield/internal/inject"
	"github.com/ajranjith/source-shield/internal/locator"
	"github.com/ajranjith/source-shield/internal/manifest"
	"github.com/ajranjith/source-shield/internal/support"
)

const launcherManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <application android:label="Mascot">
        <activity android:name=".MascotActivity" />
        <activity android:name=".MainActivity" android:exported="true">
            <intent-filter>
                <action android:name="android.intent.action.MAIN" />
                <category android:name="android.intent.category.LAUNCHER" />
            </intent-filter>
        </activity>
    </application>
</manifest>
`

const emptyManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <application android:label="Mascot" />
</manifest>
`

const mainActivity = `package com.example.mascot

import android.os.Bundle
import androidx.activity.ComponentActivity

class MainActivity : ComponentActivity() {
    override fun onCreate(savedInstanceState: Bundle?) {
        super.onCreate(savedInstanceState)
        setContent { Home() }
    }
}
`

type project struct {
	root string
	file string
}

func newProject(t *testing.T, manifestXML string, files map[string]string) project {
	t.Helper()
	root := t.TempDir()
	write := func(rel, body string) string {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	write("app/src/main/AndroidManifest.xml", manifestXML)
	p := project{root: root}
	for rel, body := range files {
		path := write(rel, body)
		if strings.HasSuffix(rel, "MainActivity.kt") || strings.HasSuffix(rel, "MainActivity.java") {
			p.file = path
		}
	}
	return p
}

func standardProject(t *testing.T) project {
	return newProject(t, launcherManifest, map[string]string{
		"app/src/main/java/com/example/mascot/MainActivity.kt":   mainActivity,
		"app/src/main/java/com/example/mascot/MascotActivity.kt": "package com.example.mascot\n\nclass MascotActivity : ComponentActivity()\n",
	})
}

func options(root string) Options {
	return Options{ProjectRoot: root, Config: config.Default(), Log: zap.NewNop()}
}

func requirePipelineError(t *testing.T, err error, phase Phase, kind Kind) *Error {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "want *pipeline.Error, got %T: %v", err, err)
	assert.Equal(t, phase, perr.Phase)
	assert.Equal(t, kind, perr.Kind)
	return perr
}

func TestRun_AppliesThenSkips(t *testing.T) {
	p := standardProject(t)
	ctx := context.Background()

	first, err := Run(ctx, options(p.root))
	require.NoError(t, err)
	assert.Equal(t, inject.Applied, first.Result.Outcome)
	assert.Equal(t, "MainActivity", first.EntryPoint.SimpleName)
	assert.Equal(t, p.file, first.DefiningFile)
	assert.NotEmpty(t, first.SnapshotID)
	assert.True(t, first.Template.Changed)
	assert.FileExists(t, filepath.Join(p.root, "app", "src", "main", "java", "com", "security", "shield", "SecurityShield.kt"))

	afterFirst, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Contains(t, string(afterFirst), "import com.security.shield.SecurityShield\n")
	assert.Equal(t, 1, strings.Count(string(afterFirst), "SecurityShield.protect(this)"))

	second, err := Run(ctx, options(p.root))
	require.NoError(t, err)
	assert.Equal(t, inject.Skipped, second.Result.Outcome)
	assert.Empty(t, second.SnapshotID)
	assert.False(t, second.Template.Changed)

	afterSecond, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)

	entries, err := support.ReadAudit(filepath.Join(p.root, ".shield"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "applied", entries[0].Result)
	assert.Equal(t, "skipped", entries[1].Result)
	assert.Equal(t, "app/src/main/java/com/example/mascot/MainActivity.kt", entries[0].File)
	assert.Equal(t, first.SnapshotID, entries[0].SnapshotID)
}

func TestRun_RollbackRestoresOriginal(t *testing.T) {
	p := standardProject(t)
	rep, err := Run(context.Background(), options(p.root))
	require.NoError(t, err)

	_, err = support.RestoreSnapshot(filepath.Join(p.root, ".shield"), p.root, rep.SnapshotID)
	require.NoError(t, err)
	data, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Equal(t, mainActivity, string(data))
}

func TestRun_NoActivitiesSkipsLocator(t *testing.T) {
	p := newProject(t, emptyManifest, map[string]string{
		"app/src/main/java/com/example/mascot/MainActivity.kt": mainActivity,
	})
	calls := 0
	r := NewRunner()
	r.LocateFile = func(sourceRoot, name string, opts locator.Options) (locator.Match, error) {
		calls++
		return locator.LocateDefiningFile(sourceRoot, name, opts)
	}

	_, err := r.Run(context.Background(), options(p.root))
	requirePipelineError(t, err, PhaseResolve, KindResolution)
	assert.ErrorIs(t, err, manifest.ErrNoActivitiesDeclared)
	assert.Zero(t, calls)
	assert.NoDirExists(t, filepath.Join(p.root, ".shield"))
}

func TestRun_MissingProject(t *testing.T) {
	_, err := Run(context.Background(), options(filepath.Join(t.TempDir(), "missing")))
	requirePipelineError(t, err, PhaseValidate, KindInputValidation)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRun_NotAnAndroidProject(t *testing.T) {
	_, err := Run(context.Background(), options(t.TempDir()))
	requirePipelineError(t, err, PhaseValidate, KindInputValidation)
	assert.ErrorIs(t, err, ErrInvalidProject)
}

func TestRun_DefiningFileNotFound(t *testing.T) {
	p := newProject(t, launcherManifest, map[string]string{
		"app/src/main/java/com/example/mascot/Other.kt": "class Other : ComponentActivity()\n",
	})
	_, err := Run(context.Background(), options(p.root))
	requirePipelineError(t, err, PhaseLocate, KindResolution)
	assert.ErrorIs(t, err, locator.ErrDefiningFileNotFound)
	assert.NoDirExists(t, filepath.Join(p.root, "app", "src", "main", "java", "com", "security"))
}

func TestRun_NoSourceRoots(t *testing.T) {
	p := newProject(t, launcherManifest, nil)
	_, err := Run(context.Background(), options(p.root))
	requirePipelineError(t, err, PhaseLocate, KindResolution)
	assert.ErrorIs(t, err, locator.ErrSourceRootNotFound)
}

func TestRun_AnchorFailureLeavesTreeUntouched(t *testing.T) {
	src := "package com.example.mascot\n\nclass MainActivity : ComponentActivity() {\n    fun start() {}\n}\n"
	p := newProject(t, launcherManifest, map[string]string{
		"app/src/main/java/com/example/mascot/MainActivity.kt": src,
	})

	_, err := Run(context.Background(), options(p.root))
	perr := requirePipelineError(t, err, PhasePlan, KindInjectionAnchor)
	assert.ErrorIs(t, err, inject.ErrEntryMethodNotFound)
	assert.Contains(t, perr.Guidance(), "SecurityShield.protect(this)")

	data, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Equal(t, src, string(data))
	assert.NoDirExists(t, filepath.Join(p.root, "app", "src", "main", "java", "com", "security"))
	assert.NoDirExists(t, filepath.Join(p.root, ".shield"))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	p := standardProject(t)
	var out bytes.Buffer
	opts := options(p.root)
	opts.DryRun = true
	opts.Reporter = &TextReporter{W: &out}

	rep, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, inject.Applied, rep.Result.Outcome)
	assert.Contains(t, rep.Patch, "+++ b/app/src/main/java/com/example/mascot/MainActivity.kt")
	assert.Contains(t, rep.Patch, "+import com.security.shield.SecurityShield\n")
	assert.Contains(t, rep.Patch, "+        SecurityShield.protect(this)\n")
	assert.Contains(t, out.String(), rep.Patch)

	data, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Equal(t, mainActivity, string(data))
	assert.NoDirExists(t, filepath.Join(p.root, ".shield"))
	assert.NoDirExists(t, filepath.Join(p.root, "app", "src", "main", "java", "com", "security"))
}

func TestRun_SecondSourceRoot(t *testing.T) {
	p := newProject(t, launcherManifest, map[string]string{
		"app/src/main/kotlin/com/example/mascot/MainActivity.kt": mainActivity,
	})
	rep, err := Run(context.Background(), options(p.root))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.root, "app", "src", "main", "kotlin"), rep.SourceRoot)
	assert.FileExists(t, filepath.Join(rep.SourceRoot, "com", "security", "shield", "SecurityShield.kt"))
}

func TestRun_JavaProject(t *testing.T) {
	src := "package com.example;\n\nimport android.app.Activity;\nimport android.os.Bundle;\n\npublic class MainActivity extends Activity {\n    @Override\n    protected void onCreate(Bundle b) {\n        super.onCreate(b);\n    }\n}\n"
	p := newProject(t, launcherManifest, map[string]string{
		"app/src/main/java/com/example/MainActivity.java": src,
	})
	rep, err := Run(context.Background(), options(p.root))
	require.NoError(t, err)
	assert.Equal(t, "java", rep.Dialect)
	assert.FileExists(t, filepath.Join(p.root, "app", "src", "main", "java", "com", "security", "shield", "SecurityShield.java"))
	data, err := os.ReadFile(p.file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "import com.security.shield.SecurityShield;\n")
}

func TestRun_Canceled(t *testing.T) {
	p := standardProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, options(p.root))
	requirePipelineError(t, err, PhaseValidate, KindCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ReportsEveryPhase(t *testing.T) {
	p := standardProject(t)
	var out bytes.Buffer
	opts := options(p.root)
	opts.Reporter = &TextReporter{W: &out}
	rep, err := Run(context.Background(), opts)
	require.NoError(t, err)

	for i, phase := range Phases {
		assert.Contains(t, out.String(), fmt.Sprintf("PHASE %d/%d: %s", i+1, len(Phases), phase.Title()))
	}

	var summary bytes.Buffer
	WriteSummary(&summary, rep)
	assert.Contains(t, summary.String(), "APPLIED")
	assert.Contains(t, summary.String(), "`source-shield rollback "+rep.ProjectRoot+" --to "+rep.SnapshotID+"`")
}

func TestError_Format(t *testing.T) {
	perr := fail(PhaseLocate, KindResolution, locator.ErrDefiningFileNotFound)
	assert.Equal(t, "locate: defining file not found", perr.Error())
	assert.Equal(t, "locate: defining file not found", fmt.Sprintf("%v", perr))
	assert.True(t, strings.HasPrefix(fmt.Sprintf("%+v", perr), "locate: defining file not found"))
	assert.NotEmpty(t, perr.Guidance())
}

func TestDiagnose(t *testing.T) {
	p := standardProject(t)
	r := NewRunner()
	ctx := context.Background()

	before := r.Diagnose(ctx, options(p.root))
	assert.True(t, before.Ready)
	assert.False(t, before.Instrumented)
	assert.Equal(t, ".MainActivity", before.EntryPoint)
	assert.Equal(t, 2, before.ActivityCount)
	assert.Equal(t, "missing", before.Template)
	assert.Equal(t, string(inject.AnchorSuperCall), before.CallAnchor)
	assert.Nil(t, before.LastRun)

	_, err := r.Run(ctx, options(p.root))
	require.NoError(t, err)

	after := r.Diagnose(ctx, options(p.root))
	assert.True(t, after.Ready)
	assert.True(t, after.Instrumented)
	assert.Equal(t, "current", after.Template)
	assert.Equal(t, 1, after.Snapshots)
	require.NotNil(t, after.LastRun)
	assert.Equal(t, "applied", after.LastRun.Result)
}

func TestDiagnose_ReportsProblem(t *testing.T) {
	p := newProject(t, emptyManifest, nil)
	d := NewRunner().Diagnose(context.Background(), options(p.root))
	assert.False(t, d.Ready)
	require.Len(t, d.Problems, 1)
	assert.Equal(t, PhaseResolve, d.Problems[0].Phase)
	assert.Equal(t, "resolution", d.Problems[0].Kind)
}
