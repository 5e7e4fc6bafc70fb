package interactive

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// localPTY spawns a local shell under a pseudo-terminal.
type localPTY struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func startLocalPTY(shell, cwd string, env map[string]string, cols, rows uint16) (*localPTY, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}

	cmd := exec.Command(shell)
	if cwd != "" {
		cmd.Dir = cwd
	}

	envList := os.Environ()
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	envList = append(envList, "TERM=xterm-256color")
	cmd.Env = envList
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &localPTY{ptmx: ptmx, cmd: cmd}, nil
}

func (l *localPTY) Read(p []byte) (int, error)  { return l.ptmx.Read(p) }
func (l *localPTY) Write(p []byte) (int, error) { return l.ptmx.Write(p) }

func (l *localPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(l.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (l *localPTY) Close() error {
	_ = l.ptmx.Close()
	if l.cmd.Process != nil {
		pid := l.cmd.Process.Pid
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		_ = l.cmd.Wait()
	}
	return nil
}
