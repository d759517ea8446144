package support

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// AuditEntry is one line of <stateDir>/audit.log.
type AuditEntry struct {
	TimestampUtc string `json:"timestampUtc"`
	RunID        string `json:"runId"`
	Mode         string `json:"mode"`
	Result       string `json:"result"`
	EntryPoint   string `json:"entryPoint,omitempty"`
	File         string `json:"file,omitempty"`
	SHA256Before string `json:"sha256Before,omitempty"`
	SHA256After  string `json:"sha256After,omitempty"`
	SnapshotID   string `json:"snapshotId,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

// AppendAudit appends entry as a JSON line to <stateDir>/audit.log.
func AppendAudit(stateDir string, entry AuditEntry) error {
	if entry.TimestampUtc == "" {
		entry.TimestampUtc = time.Now().UTC().Format(time.RFC3339)
	}
	path := filepath.Join(stateDir, "audit.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// ReadAudit returns every parseable entry of <stateDir>/audit.log in file order.
// A missing log yields no entries.
func ReadAudit(stateDir string) ([]AuditEntry, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, "audit.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []AuditEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
