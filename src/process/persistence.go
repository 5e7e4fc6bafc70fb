package process

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// persistedProcess is the stable on-disk schema for a BackgroundProcess,
// carrying everything needed to declare a record ORPHANED on restart.
type persistedProcess struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Command   string     `json:"command"`
	Args      []string   `json:"args"`
	PID       int        `json:"pid"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Name      string     `json:"name,omitempty"`
}

func processPath(stateRoot, id string) string {
	return filepath.Join(stateRoot, "processes", id+".json")
}

func toPersistedProcess(p *BackgroundProcess) persistedProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	return persistedProcess{
		ID:        p.ID,
		SessionID: p.SessionID,
		Command:   p.Command,
		Args:      p.Args,
		PID:       p.PID,
		Status:    p.Status,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		ExitCode:  p.ExitCode,
		Name:      p.Name,
	}
}

// saveProcess atomically persists a process record: write to a temp file in
// the same directory, fsync, rename over target.
func saveProcess(stateRoot string, p *BackgroundProcess) error {
	dir := filepath.Join(stateRoot, "processes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create processes dir: %w", err)
	}

	data, err := json.MarshalIndent(toPersistedProcess(p), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal process %s: %w", p.ID, err)
	}

	target := processPath(stateRoot, p.ID)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp, target)
}

func deleteProcessFile(stateRoot, id string) error {
	err := os.Remove(processPath(stateRoot, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// loadProcessRecords reads every process file under <stateRoot>/processes/,
// skipping and logging any file that fails to parse.
func loadProcessRecords(stateRoot string) ([]persistedProcess, error) {
	dir := filepath.Join(stateRoot, "processes")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read processes dir: %w", err)
	}

	var records []persistedProcess
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{"component": "process", "file": path}).
				Warnf("failed to read process file: %v", err)
			continue
		}
		var p persistedProcess
		if err := json.Unmarshal(data, &p); err != nil {
			logrus.WithFields(logrus.Fields{"component": "process", "file": path}).
				Warnf("failed to parse process file, skipping: %v", err)
			continue
		}
		records = append(records, p)
	}
	return records, nil
}
