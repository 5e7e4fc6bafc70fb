package interactive

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/buffer"
	"github.com/opslane/shellsup/src/shellerr"
)

type ptyHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Close() error
}

// Session is a single interactive PTY-backed session, local or SSH.
type Session struct {
	ID     string
	Kind   string
	Host   string
	User   string
	Port   int
	Buffer *buffer.Buffer

	mu           sync.Mutex
	status       Status
	startTime    time.Time
	lastActivity time.Time
	handle       ptyHandle
}

// Manager owns every interactive session for the lifetime of the program.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   Config
}

// New constructs a Manager; cfg's zero value uses the package defaults.
func New(cfg Config) *Manager {
	return &Manager{sessions: make(map[string]*Session), config: cfg.withDefaults()}
}

// StartLocal spawns a local shell under a PTY and begins connection
// detection against the configured success/error patterns.
func (m *Manager) StartLocal(shell, cwd string, env map[string]string, cols, rows uint16) (*Session, error) {
	handle, err := startLocalPTY(shell, cwd, env, cols, rows)
	if err != nil {
		return nil, shellerr.ExternalFailuref("start local pty: %v", err)
	}
	return m.register("local", "", "", 0, handle)
}

// StartSSH dials target and begins connection detection.
func (m *Manager) StartSSH(target SSHTarget, cols, rows uint16) (*Session, error) {
	handle, err := dialSSH(target, cols, rows)
	if err != nil {
		return nil, err
	}
	return m.register("ssh", target.Host, target.User, target.Port, handle)
}

func (m *Manager) register(kind, host, user string, port int, handle ptyHandle) (*Session, error) {
	s := &Session{
		ID:           uuid.NewString(),
		Kind:         kind,
		Host:         host,
		User:         user,
		Port:         port,
		Buffer:       buffer.New(),
		status:       StatusConnecting,
		startTime:    time.Now(),
		lastActivity: time.Now(),
		handle:       handle,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go m.readLoop(s)
	go m.watchConnect(s)

	return s, nil
}

// readLoop drains the PTY line by line into the session's buffer, stripping
// ANSI escapes from the stored content, until the PTY closes.
func (m *Manager) readLoop(s *Session) {
	reader := bufio.NewReader(s.handle)
	var partial []byte

	for {
		b, err := reader.ReadByte()
		if err != nil {
			if len(partial) > 0 {
				s.appendLine(partial)
			}
			s.mu.Lock()
			if s.status != StatusError {
				s.status = StatusDisconnected
			}
			s.mu.Unlock()
			return
		}
		if b == '\n' {
			s.appendLine(partial)
			partial = nil
			continue
		}
		partial = append(partial, b)
	}
}

func (s *Session) appendLine(raw []byte) {
	content := stripANSI(string(raw))
	s.Buffer.Append("pty", content)
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// watchConnect polls recent output for success/error patterns until one
// matches or ConnectTimeout elapses.
func (m *Manager) watchConnect(s *Session) {
	deadline := time.Now().Add(m.config.ConnectTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		lines := s.Buffer.Read(0)
		var joined string
		for _, l := range lines {
			joined += l.Content + "\n"
		}

		for _, re := range m.config.ErrorPatterns {
			if re.MatchString(joined) {
				s.mu.Lock()
				s.status = StatusError
				s.mu.Unlock()
				return
			}
		}
		for _, re := range m.config.SuccessPatterns {
			if re.MatchString(joined) {
				s.mu.Lock()
				s.status = StatusConnected
				s.mu.Unlock()
				return
			}
		}

		if time.Now().After(deadline) {
			s.mu.Lock()
			if s.status == StatusConnecting {
				s.status = StatusError
			}
			s.mu.Unlock()
			return
		}

		<-ticker.C
	}
}

func (m *Manager) resolve(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, shellerr.NotFoundf("interactive session %q not found", id)
	}
	return s, nil
}

// SendInput writes input to the session's PTY, translating an input that is
// exactly a caret escape into its raw control byte and optionally appending
// a newline.
func (m *Manager) SendInput(id, input string, appendNewline bool) error {
	s, err := m.resolve(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != StatusConnected {
		return shellerr.Conflictf("session %s is not connected (status=%s)", id, status)
	}

	payload := translateControl(input)
	if appendNewline {
		payload += "\n"
	}
	if _, err := s.handle.Write([]byte(payload)); err != nil {
		return shellerr.ExternalFailuref("write to pty: %v", err)
	}
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// Resize forwards a terminal size change to the PTY.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s, err := m.resolve(id)
	if err != nil {
		return err
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		return shellerr.ExternalFailuref("resize pty: %v", err)
	}
	return nil
}

// Close terminates a session; it is idempotent.
func (m *Manager) Close(id string) error {
	s, err := m.resolve(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDisconnected
	s.mu.Unlock()

	if err := s.handle.Close(); err != nil && err != io.EOF {
		logrus.WithField("component", "interactive").Warnf("close session %s: %v", id, err)
	}
	s.Buffer.Cleanup()
	return nil
}

// List returns metadata-only views of every tracked session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		out = append(out, Info{
			ID:           s.ID,
			Kind:         s.Kind,
			Host:         s.Host,
			User:         s.User,
			Port:         s.Port,
			Status:       s.status,
			StartTime:    s.startTime,
			TotalLines:   s.Buffer.TotalLines(),
			LastActivity: s.lastActivity,
		})
		s.mu.Unlock()
	}
	return out
}

// Status returns a single session's current connection state.
func (m *Manager) Status(id string) (Status, error) {
	s, err := m.resolve(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Output returns the session's captured lines starting at afterLine+1.
func (m *Manager) Output(id string, afterLine int64) ([]buffer.OutputLine, error) {
	s, err := m.resolve(id)
	if err != nil {
		return nil, err
	}
	return s.Buffer.Read(afterLine + 1), nil
}

// WaitForOutput blocks until a session has new lines past afterLine, the
// session closes, or timeout elapses.
func (m *Manager) WaitForOutput(ctx context.Context, id string, afterLine int64, timeout time.Duration) ([]buffer.OutputLine, error) {
	s, err := m.resolve(id)
	if err != nil {
		return nil, err
	}
	return s.Buffer.WaitForNew(ctx, afterLine, timeout), nil
}
