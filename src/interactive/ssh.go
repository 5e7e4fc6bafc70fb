package interactive

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/opslane/shellsup/src/shellerr"
)

// sshPTY wraps an SSH session with a remote PTY attached.
type sshPTY struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func dialSSH(target SSHTarget, cols, rows uint16) (*sshPTY, error) {
	if target.Host == "" {
		return nil, shellerr.Invalidf("ssh target host must not be empty")
	}
	port := target.Port
	if port == 0 {
		port = 22
	}

	var auth []ssh.AuthMethod
	if len(target.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(target.KeyPEM)
		if err != nil {
			return nil, shellerr.Invalidf("parse private key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		auth = append(auth, ssh.Password(target.Password))
	}
	if len(auth) == 0 {
		return nil, shellerr.Invalidf("ssh target must provide a password or private key")
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         ConnectTimeout,
	}

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, shellerr.ExternalFailuref("ssh dial %s: %v", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, shellerr.ExternalFailuref("ssh new session: %v", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		session.Close()
		client.Close()
		return nil, shellerr.ExternalFailuref("request pty: %v", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, shellerr.ExternalFailuref("stdin pipe: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, shellerr.ExternalFailuref("stdout pipe: %v", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, shellerr.ExternalFailuref("start shell: %v", err)
	}

	return &sshPTY{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *sshPTY) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshPTY) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshPTY) Resize(cols, rows uint16) error {
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshPTY) Close() error {
	_ = s.session.Close()
	_ = s.client.Close()
	return nil
}
