// Package process implements the Process Supervisor (C5): spawning,
// tracking, killing, and sampling background child processes, with orphan
// detection across supervisor restarts.
package process

import (
	"os/exec"
	"sync"
	"time"

	"github.com/opslane/shellsup/src/buffer"
)

// Status is a BackgroundProcess's lifecycle state.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopped  Status = "STOPPED"
	StatusFailed   Status = "FAILED"
	StatusKilled   Status = "KILLED"
	StatusOrphaned Status = "ORPHANED"
)

// IsTerminal reports whether status is one the process cannot leave on its
// own (STOPPED, FAILED, KILLED, or ORPHANED once killed).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// Trend summarizes recent resource-sample direction.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// GraceWindow is how long a terminal process record lingers before removal,
// so observers can sample its final state.
const GraceWindow = 5 * time.Second

// BackgroundProcess is a supervised child process.
type BackgroundProcess struct {
	ID        string
	SessionID string
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	Name      string

	PID       int
	Status    Status
	StartTime time.Time
	EndTime   *time.Time
	ExitCode  *int

	LastCPUPercent float64
	LastRSSBytes   int64
	LastMemPercent float64
	SampleCount    int
	Trend          Trend
	lastSample     time.Time

	Buffer *buffer.Buffer

	mu         sync.Mutex
	cmd        *exec.Cmd
	killSignal string // set once Kill is called so exit handling can classify STOPPED vs KILLED
	terminalAt time.Time
	adopted    bool // true for processes discovered ORPHANED at startup
}

// Snapshot is the read-only view of a BackgroundProcess handed to callers,
// deliberately excluding the live *exec.Cmd and buffer handle.
type Snapshot struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId"`
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Cwd            string            `json:"cwd"`
	Name           string            `json:"name,omitempty"`
	PID            int               `json:"pid"`
	Status         Status            `json:"status"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
	ExitCode       *int              `json:"exitCode,omitempty"`
	LastCPUPercent float64           `json:"lastCpuPercent"`
	LastRSSBytes   int64             `json:"lastRssBytes"`
	LastMemPercent float64           `json:"lastMemPercent"`
	SampleCount    int               `json:"sampleCount"`
	Trend          Trend             `json:"trend,omitempty"`
	TotalLines     int64             `json:"totalLines"`
}

func (p *BackgroundProcess) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	if p.Buffer != nil {
		total = p.Buffer.TotalLines()
	}
	return Snapshot{
		ID:             p.ID,
		SessionID:      p.SessionID,
		Command:        p.Command,
		Args:           p.Args,
		Cwd:            p.Cwd,
		Name:           p.Name,
		PID:            p.PID,
		Status:         p.Status,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		ExitCode:       p.ExitCode,
		LastCPUPercent: p.LastCPUPercent,
		LastRSSBytes:   p.LastRSSBytes,
		LastMemPercent: p.LastMemPercent,
		SampleCount:    p.SampleCount,
		Trend:          p.Trend,
		TotalLines:     total,
	}
}
