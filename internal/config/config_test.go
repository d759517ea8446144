package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	cfg, path, warnings, err := Resolve(Flags{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, warnings)
	assert.Equal(t, "app/src/main/AndroidManifest.xml", cfg.Paths.Manifest)
	assert.Equal(t, []string{"app/src/main/java", "app/src/main/kotlin"}, cfg.Paths.SourceRoots)
	assert.True(t, cfg.MaskComments())
	assert.True(t, cfg.BackupsEnabled())
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
}

func TestResolve_ProjectOverrideMergesMissingFields(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".shield", "config.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	body := "\xEF\xBB\xBF" + `paths:
  source_roots: ["src/main/java"]
scan:
  dialects: [kotlin]
  mask_comments: false
watch:
  debounce: 1s
logging:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, loaded, _, err := Resolve(Flags{ProjectRoot: root})
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, []string{"src/main/java"}, cfg.Paths.SourceRoots)
	assert.Equal(t, "app/src/main/AndroidManifest.xml", cfg.Paths.Manifest)
	assert.Equal(t, []string{"kotlin"}, cfg.Scan.Dialects)
	assert.False(t, cfg.MaskComments())
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.BackupsKeep())
}

func TestResolve_KeepZeroRetainsAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("backups:\n  keep: 0\n"), 0o644))
	cfg, _, _, err := Resolve(Flags{ConfigPath: path})
	require.NoError(t, err)
	require.NotNil(t, cfg.Backups.Keep)
	assert.Equal(t, 0, cfg.BackupsKeep())
}

func TestResolve_RejectsNegativeKeep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("backups:\n  keep: -1\n"), 0o644))
	_, _, _, err := Resolve(Flags{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backups.keep")
}

func TestResolve_ExplicitMissingFileFails(t *testing.T) {
	_, _, _, err := Resolve(Flags{ConfigPath: filepath.Join(t.TempDir(), "nope.yml")})
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestResolve_RejectsBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o644))
	_, _, _, err := Resolve(Flags{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestResolve_RejectsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: \"2.0\"\n"), 0o644))
	_, _, _, err := Resolve(Flags{ConfigPath: path})
	require.Error(t, err)
}

func TestResolve_DebounceFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("watch:\n  debounce: 1ms\n"), 0o644))
	cfg, _, warnings, err := Resolve(Flags{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
	assert.Len(t, warnings, 1)
}

func TestPathsAreJoinedUnderRoot(t *testing.T) {
	cfg := Default()
	root := filepath.Join("tmp", "proj")
	assert.Equal(t, filepath.Join(root, "app", "src", "main", "AndroidManifest.xml"), cfg.ManifestPath(root))
	assert.Equal(t, filepath.Join(root, ".shield"), cfg.StateDirPath(root))
	assert.Equal(t, filepath.Join(root, "app", "src", "main", "java"), cfg.SourceRootPaths(root)[0])
}
