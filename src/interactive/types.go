// Package interactive implements the Interactive PTY Session Manager (C9):
// local and SSH-backed pseudo-terminal sessions with a connection state
// machine, reusing the bounded line buffer for captured output.
package interactive

import (
	"regexp"
	"time"
)

// Status is a session's place in the connection state machine.
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusError        Status = "ERROR"
	StatusDisconnected Status = "DISCONNECTED"
)

// ConnectTimeout bounds how long a session may stay CONNECTING before it is
// marked ERROR.
const ConnectTimeout = 10 * time.Second

// DefaultSuccessPatterns match a shell prompt or common post-auth greeting.
var DefaultSuccessPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[$#>]\s*$`),
	regexp.MustCompile(`(?i)welcome to`),
	regexp.MustCompile(`(?i)last login:`),
}

// DefaultErrorPatterns match common SSH authentication/handshake failures.
var DefaultErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)authentication failed`),
	regexp.MustCompile(`(?i)host key verification failed`),
	regexp.MustCompile(`(?i)connection refused`),
}

// Config configures a session manager's connection-detection patterns.
type Config struct {
	SuccessPatterns []*regexp.Regexp
	ErrorPatterns   []*regexp.Regexp
	ConnectTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SuccessPatterns == nil {
		c.SuccessPatterns = DefaultSuccessPatterns
	}
	if c.ErrorPatterns == nil {
		c.ErrorPatterns = DefaultErrorPatterns
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = ConnectTimeout
	}
	return c
}

// SSHTarget describes where to dial for an SSH-backed session.
type SSHTarget struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPEM   []byte
}

// Info is the metadata-only view returned by listing sessions; it never
// carries credentials.
type Info struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"` // "local" | "ssh"
	Host         string    `json:"host,omitempty"`
	User         string    `json:"user,omitempty"`
	Port         int       `json:"port,omitempty"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"startTime"`
	TotalLines   int64     `json:"totalLines"`
	LastActivity time.Time `json:"lastActivity"`
}

// controlChars maps a `"C`-style caret notation to its ASCII control byte,
// e.g. "C" (as in Ctrl-C) -> 0x03.
var controlChars = map[byte]byte{
	'A': 0x01, 'B': 0x02, 'C': 0x03, 'D': 0x04, 'E': 0x05,
	'F': 0x06, 'G': 0x07, 'H': 0x08, 'I': 0x09, 'J': 0x0a,
	'K': 0x0b, 'L': 0x0c, 'M': 0x0d, 'N': 0x0e, 'O': 0x0f,
	'P': 0x10, 'Q': 0x11, 'R': 0x12, 'S': 0x13, 'T': 0x14,
	'U': 0x15, 'V': 0x16, 'W': 0x17, 'X': 0x18, 'Y': 0x19,
	'Z': 0x1a,
}

// translateControl expands an input that is exactly a caret escape ("^C")
// into its raw control byte; any other input passes through unchanged.
func translateControl(input string) string {
	if len(input) == 2 && input[0] == '^' {
		if b, ok := controlChars[input[1]]; ok {
			return string(b)
		}
	}
	return input
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][A-Z0-9]|\x1b[=>]`)

// stripANSI removes escape sequences so stored content stays human-readable.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
