package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// persistedHistoryEntry is the on-disk schema for a CommandHistoryEntry.
// Duration is stored in milliseconds per SPEC_FULL.md's external schema.
type persistedHistoryEntry struct {
	Command          string      `json:"command"`
	Args             []string    `json:"args"`
	ExitCode         *int        `json:"exitCode"`
	Stdout           string      `json:"stdout,omitempty"`
	Stderr           string      `json:"stderr,omitempty"`
	StartTime        time.Time   `json:"startTime"`
	DurationMs       int64       `json:"duration"`
	StdoutTruncation *Truncation `json:"stdoutTruncation,omitempty"`
	StderrTruncation *Truncation `json:"stderrTruncation,omitempty"`
}

// persistedSession is the stable on-disk schema for a Session record.
type persistedSession struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Cwd      string                  `json:"cwd"`
	Env      map[string]string       `json:"env"`
	Created  time.Time               `json:"created"`
	LastUsed time.Time               `json:"lastUsed"`
	History  []persistedHistoryEntry `json:"history"`
}

func toPersisted(s *Session) persistedSession {
	history := s.History
	if len(history) > MaxHistoryPersist {
		history = history[len(history)-MaxHistoryPersist:]
	}
	out := persistedSession{
		ID:       s.ID,
		Name:     s.Name,
		Cwd:      s.Cwd,
		Env:      s.Env,
		Created:  s.Created,
		LastUsed: s.LastUsed,
		History:  make([]persistedHistoryEntry, len(history)),
	}
	for i, h := range history {
		out.History[i] = persistedHistoryEntry{
			Command:          h.Command,
			Args:             h.Args,
			ExitCode:         h.ExitCode,
			Stdout:           h.Stdout,
			Stderr:           h.Stderr,
			StartTime:        h.StartTime,
			DurationMs:       h.Duration.Milliseconds(),
			StdoutTruncation: h.StdoutTruncation,
			StderrTruncation: h.StderrTruncation,
		}
	}
	return out
}

func fromPersisted(p persistedSession) *Session {
	s := &Session{
		ID:       p.ID,
		Name:     p.Name,
		Cwd:      p.Cwd,
		Env:      p.Env,
		Created:  p.Created,
		LastUsed: p.LastUsed,
		History:  make([]CommandHistoryEntry, len(p.History)),
	}
	if s.Env == nil {
		s.Env = map[string]string{}
	}
	for i, h := range p.History {
		s.History[i] = CommandHistoryEntry{
			Command:          h.Command,
			Args:             h.Args,
			ExitCode:         h.ExitCode,
			Stdout:           h.Stdout,
			Stderr:           h.Stderr,
			StartTime:        h.StartTime,
			Duration:         time.Duration(h.DurationMs) * time.Millisecond,
			StdoutTruncation: h.StdoutTruncation,
			StderrTruncation: h.StderrTruncation,
		}
	}
	return s
}

// Store's persistence directory layout: <stateRoot>/sessions/<id>.json.
func sessionPath(stateRoot, id string) string {
	return filepath.Join(stateRoot, "sessions", id+".json")
}

// saveSession atomically writes a session to disk: write to a temp file in
// the same directory, fsync, then rename over the target, so a reader never
// observes a partially written file.
func saveSession(stateRoot string, s *Session) error {
	dir := filepath.Join(stateRoot, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	data, err := json.MarshalIndent(toPersisted(s), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	target := sessionPath(stateRoot, s.ID)
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
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func deleteSessionFile(stateRoot, id string) error {
	err := os.Remove(sessionPath(stateRoot, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// loadSessions reads every session file under <stateRoot>/sessions/,
// skipping and logging any file that fails to parse rather than aborting
// startup.
func loadSessions(stateRoot string) ([]*Session, error) {
	dir := filepath.Join(stateRoot, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{"component": "session", "file": path}).
				Warnf("failed to read session file: %v", err)
			continue
		}
		var p persistedSession
		if err := json.Unmarshal(data, &p); err != nil {
			logrus.WithFields(logrus.Fields{"component": "session", "file": path}).
				Warnf("failed to parse session file, skipping: %v", err)
			continue
		}
		sessions = append(sessions, fromPersisted(p))
	}
	return sessions, nil
}
