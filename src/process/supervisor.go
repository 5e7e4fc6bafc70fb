package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/buffer"
	"github.com/opslane/shellsup/src/search"
	"github.com/opslane/shellsup/src/shellerr"
)

// StartOptions configures a spawned background process.
type StartOptions struct {
	Cwd  string
	Env  map[string]string
	Name string
}

// KillMode selects graceful (SIGTERM) vs force (SIGKILL) termination.
type KillMode string

const (
	KillGraceful KillMode = "graceful"
	KillForce    KillMode = "force"
)

// Supervisor is the Process Supervisor (C5): it owns every BackgroundProcess
// for the lifetime of the program.
type Supervisor struct {
	mu        sync.RWMutex
	stateRoot string
	processes map[string]*BackgroundProcess
	sampler   *Sampler
	searcher  *search.Searcher
}

// New constructs a Supervisor rooted at stateRoot and adopts any persisted
// process records whose PID is still alive but no longer a descendant.
func New(stateRoot string) (*Supervisor, error) {
	s := &Supervisor{
		stateRoot: stateRoot,
		processes: make(map[string]*BackgroundProcess),
		searcher:  search.New(),
	}
	s.sampler = NewSampler(s)

	records, err := loadProcessRecords(stateRoot)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.adoptRecord(rec)
	}

	s.sampler.Start()
	return s, nil
}

func (s *Supervisor) adoptRecord(rec persistedProcess) {
	if rec.Status.IsTerminal() {
		// Terminal records from a previous run are not re-adopted; their
		// grace window has long since passed.
		return
	}

	p := &BackgroundProcess{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Command:   rec.Command,
		Args:      rec.Args,
		Name:      rec.Name,
		PID:       rec.PID,
		StartTime: rec.StartTime,
		Buffer:    buffer.New(),
		adopted:   true,
	}

	if isProcessRunning(rec.PID) && !isDescendant(rec.PID) && verifyProcessCommand(rec.PID, rec.Command) {
		p.Status = StatusOrphaned
	} else {
		// The PID is gone or reused by something else; drop the record and
		// its file rather than tracking a phantom.
		if err := deleteProcessFile(s.stateRoot, rec.ID); err != nil {
			logrus.WithField("component", "process").Warnf("failed to remove stale process record: %v", err)
		}
		return
	}

	s.mu.Lock()
	s.processes[p.ID] = p
	s.mu.Unlock()
}

// Start spawns a new child process attached to sessionID.
func (s *Supervisor) Start(ctx context.Context, sessionID, command string, args []string, opts StartOptions) (*BackgroundProcess, error) {
	if strings.TrimSpace(command) == "" {
		return nil, shellerr.Invalidf("command must not be empty")
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	if opts.Env != nil {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, shellerr.ExternalFailuref("create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, shellerr.ExternalFailuref("create stderr pipe: %v", err)
	}

	p := &BackgroundProcess{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Command:   command,
		Args:      args,
		Cwd:       cwd,
		Env:       opts.Env,
		Name:      opts.Name,
		Status:    StatusStarting,
		StartTime: time.Now(),
		Buffer:    buffer.New(),
		cmd:       cmd,
	}

	if err := cmd.Start(); err != nil {
		return nil, shellerr.ExternalFailuref("spawn %s: %v", command, err)
	}

	p.mu.Lock()
	p.PID = cmd.Process.Pid
	p.Status = StatusRunning
	p.mu.Unlock()

	s.mu.Lock()
	s.processes[p.ID] = p
	s.mu.Unlock()

	s.sampler.NotifyActivity()

	var wg sync.WaitGroup
	wg.Add(2)
	go drainStream(&wg, stdout, "stdout", p)
	go drainStream(&wg, stderr, "stderr", p)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		s.finish(p, err)
	}()

	if err := s.persist(p); err != nil {
		logrus.WithField("component", "process").Warnf("failed to persist new process record: %v", err)
	}

	return p, nil
}

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// drainStream reads stream line by line and appends each physical line to
// the process's buffer, normalizing CRLF and flushing a trailing partial
// line when the stream closes.
func drainStream(wg *sync.WaitGroup, r io.Reader, stream string, p *BackgroundProcess) {
	defer wg.Done()
	reader := bufio.NewReader(r)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		if len(chunk) > 0 {
			chunk = strings.TrimSuffix(chunk, "\n")
			chunk = strings.TrimSuffix(chunk, "\r")
			if strings.HasSuffix(chunk, "\n") || err == nil {
				full := partial.String() + chunk
				partial.Reset()
				p.Buffer.Append(stream, full)
			} else {
				partial.WriteString(chunk)
			}
		}
		if err != nil {
			if partial.Len() > 0 {
				p.Buffer.Append(stream, partial.String())
			}
			return
		}
	}
}

func (s *Supervisor) finish(p *BackgroundProcess, waitErr error) {
	p.mu.Lock()
	now := time.Now()
	p.EndTime = &now
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	p.ExitCode = &exitCode

	switch {
	case p.killSignal != "":
		p.Status = StatusKilled
	case exitCode == 0:
		p.Status = StatusStopped
	default:
		p.Status = StatusFailed
	}
	p.terminalAt = now
	p.mu.Unlock()

	if err := s.persist(p); err != nil {
		logrus.WithField("component", "process").Warnf("failed to persist terminal process record: %v", err)
	}

	time.AfterFunc(GraceWindow, func() {
		s.mu.Lock()
		delete(s.processes, p.ID)
		s.mu.Unlock()
		p.Buffer.Cleanup()
	})
}

func (s *Supervisor) persist(p *BackgroundProcess) error {
	return saveProcess(s.stateRoot, p)
}

// resolve finds a process by id or by name (most recent match wins).
func (s *Supervisor) resolve(identifier string) (*BackgroundProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.processes[identifier]; ok {
		return p, nil
	}
	var found *BackgroundProcess
	for _, p := range s.processes {
		if p.Name == identifier {
			if found == nil || p.StartTime.After(found.StartTime) {
				found = p
			}
		}
	}
	if found == nil {
		return nil, shellerr.NotFoundf("process %q not found", identifier)
	}
	return found, nil
}

// Kill sends SIGTERM (graceful) or SIGKILL (force) to a RUNNING process, or
// directly signals an ORPHANED process's PID. Killing a process that is
// already in a terminal state fails with Conflict and leaves it unchanged.
func (s *Supervisor) Kill(identifier string, mode KillMode) error {
	p, err := s.resolve(identifier)
	if err != nil {
		return err
	}

	p.mu.Lock()
	status := p.Status
	pid := p.PID
	p.mu.Unlock()

	if status.IsTerminal() {
		return shellerr.Conflictf("process %s is already in terminal state %s", identifier, status)
	}

	sig := syscall.SIGTERM
	if mode == KillForce {
		sig = syscall.SIGKILL
	}

	if status == StatusOrphaned {
		if err := syscall.Kill(pid, sig); err != nil && !isProcessRunning(pid) {
			// Already gone; treat as success.
		} else if err != nil {
			return shellerr.ExternalFailuref("signal orphaned process %d: %v", pid, err)
		}
		p.mu.Lock()
		p.killSignal = string(mode)
		p.Status = StatusKilled
		now := time.Now()
		p.EndTime = &now
		p.terminalAt = now
		p.mu.Unlock()
		if err := s.persist(p); err != nil {
			logrus.WithField("component", "process").Warnf("failed to persist killed orphan: %v", err)
		}
		time.AfterFunc(GraceWindow, func() {
			s.mu.Lock()
			delete(s.processes, p.ID)
			s.mu.Unlock()
		})
		return nil
	}

	p.mu.Lock()
	p.killSignal = string(mode)
	p.mu.Unlock()

	// Negative PID targets the whole process group created via Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil {
		if err := syscall.Kill(pid, sig); err != nil {
			return shellerr.ExternalFailuref("kill process %d: %v", pid, err)
		}
	}
	s.sampler.NotifyActivity()
	return nil
}

// List returns a snapshot of every tracked process. When includeOrphaned is
// false, ORPHANED entries are excluded.
func (s *Supervisor) List(sessionID string, includeOrphaned bool) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.processes))
	for _, p := range s.processes {
		if sessionID != "" && p.SessionID != sessionID {
			continue
		}
		if !includeOrphaned && p.Status == StatusOrphaned {
			continue
		}
		out = append(out, p.snapshot())
	}
	return out
}

// Get returns a single process's snapshot.
func (s *Supervisor) Get(identifier string) (Snapshot, error) {
	p, err := s.resolve(identifier)
	if err != nil {
		return Snapshot{}, err
	}
	return p.snapshot(), nil
}

// GetOutputOptions configures a getOutput call.
type GetOutputOptions struct {
	Limit        int
	AfterLine    int64
	Search       string
	SearchType   search.Mode
	CaseSensitive bool
	InvertMatch  bool
	ContextLines int
}

// LineResult is one line of getOutput's response, carrying a match label
// when search was requested.
type LineResult struct {
	buffer.OutputLine
	Label string `json:"label,omitempty"` // "match" | "context"
}

// GetOutput combines the buffer's read with pattern search and optional
// context-line expansion.
func (s *Supervisor) GetOutput(identifier string, opts GetOutputOptions) ([]LineResult, error) {
	p, err := s.resolve(identifier)
	if err != nil {
		return nil, err
	}

	lines := p.Buffer.Read(opts.AfterLine + 1)
	if opts.Limit > 0 && len(lines) > opts.Limit {
		lines = lines[len(lines)-opts.Limit:]
	}

	if opts.Search == "" {
		out := make([]LineResult, len(lines))
		for i, l := range lines {
			out[i] = LineResult{OutputLine: l}
		}
		return out, nil
	}

	mode := opts.SearchType
	if mode == "" {
		mode = search.ModeText
	}
	searchOpts := search.Options{CaseSensitive: opts.CaseSensitive, Invert: opts.InvertMatch}

	var out []LineResult
	for i, l := range lines {
		m, err := s.searcher.Match(l.Content, opts.Search, mode, searchOpts)
		if err != nil {
			return nil, shellerr.Invalidf("search: %v", err)
		}
		if m == nil {
			continue
		}
		if opts.ContextLines > 0 {
			start := i - opts.ContextLines
			if start < 0 {
				start = 0
			}
			end := i + opts.ContextLines
			if end >= len(lines) {
				end = len(lines) - 1
			}
			for j := start; j < i; j++ {
				out = append(out, LineResult{OutputLine: lines[j], Label: "context"})
			}
			out = append(out, LineResult{OutputLine: l, Label: "match"})
			for j := i + 1; j <= end; j++ {
				out = append(out, LineResult{OutputLine: lines[j], Label: "context"})
			}
			continue
		}
		out = append(out, LineResult{OutputLine: l, Label: "match"})
	}
	return out, nil
}

// StreamOutput wraps the buffer's WaitForNew for resumable paging.
func (s *Supervisor) StreamOutput(ctx context.Context, identifier string, afterLine int64, timeout time.Duration, maxLines int) ([]buffer.OutputLine, int64, error) {
	p, err := s.resolve(identifier)
	if err != nil {
		return nil, 0, err
	}

	lines := p.Buffer.WaitForNew(ctx, afterLine, timeout)
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	last := afterLine
	if len(lines) > 0 {
		last = lines[len(lines)-1].LineNumber
	}
	return lines, last, nil
}

// SaveOutput atomically writes a process's buffered output to path.
func (s *Supervisor) SaveOutput(identifier, path, format string, includeMetadata bool) error {
	p, err := s.resolve(identifier)
	if err != nil {
		return err
	}
	lines := p.Buffer.Read(0)

	var data []byte
	switch format {
	case "", "text":
		var b strings.Builder
		for _, l := range lines {
			tag := "OUT"
			if l.Stream == "stderr" {
				tag = "ERR"
			}
			fmt.Fprintf(&b, "[%d] [%s] %s\n", l.LineNumber, tag, l.Content)
		}
		data = []byte(b.String())
	case "json":
		payload := map[string]any{"output": lines}
		if includeMetadata {
			payload["process"] = p.snapshot()
		}
		data, err = json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return shellerr.IOf("marshal output: %v", err)
		}
	default:
		return shellerr.Invalidf("unknown save format %q", format)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return shellerr.IOf("write output file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return shellerr.IOf("rename output file: %v", err)
	}
	return nil
}

// CleanupMode selects what cleanupOrphans does with its selection.
type CleanupMode string

const (
	CleanupList        CleanupMode = "list"
	CleanupKill        CleanupMode = "kill"
	CleanupInteractive CleanupMode = "interactive"
)

// CleanupOrphans enumerates ORPHANED processes and lists, kills, or
// advises on them per mode.
func (s *Supervisor) CleanupOrphans(mode CleanupMode, force bool) ([]Snapshot, error) {
	orphans := s.List("", true)
	selected := orphans[:0:0]
	for _, o := range orphans {
		if o.Status == StatusOrphaned {
			selected = append(selected, o)
		}
	}

	if mode == CleanupList || mode == CleanupInteractive {
		return selected, nil
	}

	killMode := KillGraceful
	if force {
		killMode = KillForce
	}
	for _, o := range selected {
		if err := s.Kill(o.ID, killMode); err != nil {
			logrus.WithField("component", "process").Warnf("cleanup: failed to kill orphan %s: %v", o.ID, err)
		}
	}
	return selected, nil
}

// KillAllMatching matches pattern against each process's command line
// ("command arg1 arg2 ...") and signals every match, unless dryRun.
func (s *Supervisor) KillAllMatching(pattern string, kind search.Mode, mode KillMode, dryRun bool) ([]Snapshot, error) {
	s.mu.RLock()
	var candidates []*BackgroundProcess
	for _, p := range s.processes {
		candidates = append(candidates, p)
	}
	s.mu.RUnlock()

	var matched []Snapshot
	for _, p := range candidates {
		line := p.Command
		if len(p.Args) > 0 {
			line += " " + strings.Join(p.Args, " ")
		}
		m, err := s.searcher.Match(line, pattern, kind, search.Options{})
		if err != nil {
			return nil, shellerr.Invalidf("pattern: %v", err)
		}
		if m != nil {
			matched = append(matched, p.snapshot())
		}
	}

	if dryRun {
		return matched, nil
	}
	for _, snap := range matched {
		if err := s.Kill(snap.ID, mode); err != nil {
			logrus.WithField("component", "process").Warnf("killAllMatching: failed to kill %s: %v", snap.ID, err)
		}
	}
	return matched, nil
}
