package support

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Snapshot describes one backup directory under <stateDir>/backups/<id>.
type Snapshot struct {
	ID           string         `json:"id"`
	CreatedAtUtc string         `json:"createdAtUtc"`
	Reason       string         `json:"reason,omitempty"`
	Files        []SnapshotFile `json:"files"`
}

// SnapshotFile is a project file captured in a snapshot. Path is slash separated
// and relative to the project root.
type SnapshotFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ErrNoSnapshots is returned when a restore is requested but nothing was backed up.
var ErrNoSnapshots = errors.New("no backups available")

func backupRoot(stateDir string) string {
	return filepath.Join(stateDir, "backups")
}

// SnapshotContent is a file to capture: Rel is relative to the project root.
type SnapshotContent struct {
	Rel  string
	Data []byte
}

// CreateSnapshot copies paths (absolute, inside root) into a new snapshot.
func CreateSnapshot(stateDir, root, reason string, paths ...string) (Snapshot, error) {
	contents := make([]SnapshotContent, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return Snapshot{}, errors.WithStack(err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "read %s", p)
		}
		contents = append(contents, SnapshotContent{Rel: rel, Data: data})
	}
	return SaveSnapshot(stateDir, reason, contents...)
}

// SaveSnapshot stores contents as a new snapshot. Snapshot ids are UUIDv7 so
// lexical order is creation order.
func SaveSnapshot(stateDir, reason string, contents ...SnapshotContent) (Snapshot, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, errors.WithStack(err)
	}
	snap := Snapshot{
		ID:           id.String(),
		CreatedAtUtc: time.Now().UTC().Format(time.RFC3339),
		Reason:       reason,
	}
	dir := filepath.Join(backupRoot(stateDir), snap.ID)
	for _, c := range contents {
		rel := filepath.Clean(filepath.FromSlash(c.Rel))
		if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return Snapshot{}, errors.Errorf("snapshot path escapes project root: %s", c.Rel)
		}
		if err := WriteFileAtomic(filepath.Join(dir, "files", rel), c.Data); err != nil {
			return Snapshot{}, errors.Wrapf(err, "save %s", c.Rel)
		}
		snap.Files = append(snap.Files, SnapshotFile{Path: filepath.ToSlash(rel), SHA256: HashBytes(c.Data)})
	}
	if err := WriteJSONAtomic(filepath.Join(dir, "snapshot.json"), snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "write snapshot %s", snap.ID)
	}
	return snap, nil
}

// ListSnapshots returns snapshot ids oldest first.
func ListSnapshots(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(backupRoot(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadSnapshot reads snapshot.json for id.
func LoadSnapshot(stateDir, id string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(backupRoot(stateDir), id, "snapshot.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, errors.Errorf("snapshot not found: %s", id)
		}
		return Snapshot{}, errors.WithStack(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "parse snapshot %s", id)
	}
	return snap, nil
}

// RestoreSnapshot copies the files of snapshot id back into root. An empty id
// restores the most recent snapshot.
func RestoreSnapshot(stateDir, root, id string) (Snapshot, error) {
	if id == "" {
		ids, err := ListSnapshots(stateDir)
		if err != nil {
			return Snapshot{}, err
		}
		if len(ids) == 0 {
			return Snapshot{}, errors.WithStack(ErrNoSnapshots)
		}
		id = ids[len(ids)-1]
	}
	snap, err := LoadSnapshot(stateDir, id)
	if err != nil {
		return Snapshot{}, err
	}
	dir := filepath.Join(backupRoot(stateDir), id, "files")
	for _, f := range snap.Files {
		rel := filepath.FromSlash(f.Path)
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "read snapshot copy of %s", f.Path)
		}
		if HashBytes(data) != f.SHA256 {
			return Snapshot{}, errors.Errorf("snapshot %s: %s does not match its recorded hash", id, f.Path)
		}
		if err := WriteFileAtomic(filepath.Join(root, rel), data); err != nil {
			return Snapshot{}, errors.Wrapf(err, "restore %s", f.Path)
		}
	}
	return snap, nil
}

// PruneSnapshots removes the oldest snapshots beyond keep. keep <= 0 keeps all.
func PruneSnapshots(stateDir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	ids, err := ListSnapshots(stateDir)
	if err != nil {
		return err
	}
	for i := 0; i < len(ids)-keep; i++ {
		if err := os.RemoveAll(filepath.Join(backupRoot(stateDir), ids[i])); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
