package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/dedup"
	"github.com/opslane/shellsup/src/executor"
	"github.com/opslane/shellsup/src/process"
	"github.com/opslane/shellsup/src/session"
)

// dedupRunCommandKey is the coalescing key for run_command: identical
// command/args/cwd/env against the same session share one execution.
type dedupRunCommandKey struct {
	Session string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// RunCommandInput is the input for run_command.
type RunCommandInput struct {
	Command        string            `json:"command" jsonschema:"the command to execute"`
	Args           []string          `json:"args,omitempty" jsonschema:"command arguments"`
	Session        *string           `json:"session,omitempty" jsonschema:"target shell session name (default: the default session)"`
	Cwd            *string           `json:"cwd,omitempty" jsonschema:"working directory override"`
	Env            map[string]string `json:"env,omitempty" jsonschema:"environment variable overrides"`
	Timeout        *int              `json:"timeout,omitempty" jsonschema:"timeout in seconds"`
	MaxOutputLines *int              `json:"maxOutputLines,omitempty" jsonschema:"max stdout lines before truncation"`
	MaxErrorLines  *int              `json:"maxErrorLines,omitempty" jsonschema:"max stderr lines before truncation"`
}

// RunCommandOutput is run_command's result.
type RunCommandOutput struct {
	Stdout     string                      `json:"stdout"`
	Stderr     string                      `json:"stderr"`
	ExitCode   int                         `json:"exitCode"`
	Success    bool                        `json:"success"`
	Duration   time.Duration               `json:"duration"`
	Truncation *executor.StreamTruncation  `json:"truncation,omitempty"`
	TimedOut   bool                        `json:"timedOut,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

type CreateShellSessionInput struct {
	Name string            `json:"name" jsonschema:"unique session name"`
	Cwd  *string            `json:"cwd,omitempty" jsonschema:"initial working directory"`
	Env  map[string]string `json:"env,omitempty" jsonschema:"initial environment"`
}

type SessionOutput struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Cwd      string    `json:"cwd"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"lastUsed"`
}

type ListShellSessionsInput struct{}

type ListShellSessionsOutput struct {
	Sessions []SessionOutput `json:"sessions"`
}

type CloseSessionInput struct {
	Session string `json:"session" jsonschema:"session name or id to close"`
}

type StatusOutput struct {
	Status string `json:"status"`
}

type CdInput struct {
	Path    string  `json:"path" jsonschema:"directory to change into"`
	Session *string `json:"session,omitempty" jsonschema:"target shell session name"`
}

type PwdInput struct {
	Session *string `json:"session,omitempty" jsonschema:"target shell session name"`
}

type PwdOutput struct {
	Cwd string `json:"cwd"`
}

type HistoryInput struct {
	Session *string `json:"session,omitempty" jsonschema:"target shell session name"`
	Limit   *int    `json:"limit,omitempty" jsonschema:"maximum number of entries to return: the most recent ones, oldest first"`
}

type HistoryOutput struct {
	Entries []session.CommandHistoryEntry `json:"entries"`
}

func sessionNameOrDefault(s *string) string {
	if s == nil || *s == "" {
		return session.DefaultSessionName
	}
	return *s
}

func toSessionOutput(s *session.Session) SessionOutput {
	return SessionOutput{ID: s.ID, Name: s.Name, Cwd: s.Cwd, Created: s.Created, LastUsed: s.LastUsed}
}

func (srv *Server) registerSessionTools() {
	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "run_command",
		Description: "Run a command to completion in a named shell session and return its truncated output",
	}, LogToolCall("run_command", func(ctx context.Context, req *mcp.CallToolRequest, in RunCommandInput) (*mcp.CallToolResult, RunCommandOutput, error) {
		name := sessionNameOrDefault(in.Session)
		sess, err := srv.sessions.Get(name)
		if err != nil {
			return nil, RunCommandOutput{}, err
		}

		cwd := sess.Cwd
		if in.Cwd != nil {
			cwd = *in.Cwd
		}
		env := sess.Env
		if in.Env != nil {
			merged := make(map[string]string, len(sess.Env)+len(in.Env))
			for k, v := range sess.Env {
				merged[k] = v
			}
			for k, v := range in.Env {
				merged[k] = v
			}
			env = merged
		}

		var timeout time.Duration
		if in.Timeout != nil {
			timeout = time.Duration(*in.Timeout) * time.Second
		}
		maxOut := 1000
		if in.MaxOutputLines != nil {
			maxOut = *in.MaxOutputLines
		}
		maxErr := 1000
		if in.MaxErrorLines != nil {
			maxErr = *in.MaxErrorLines
		}

		runOnce := func() (any, error) {
			start := time.Now()
			res, err := executor.Execute(ctx, in.Command, in.Args, executor.Options{
				Cwd: cwd, Env: env, Timeout: timeout, MaxStdoutLines: maxOut, MaxStderrLines: maxErr,
			})
			if err != nil {
				return nil, err
			}

			entry := session.CommandHistoryEntry{
				Command:   in.Command,
				Args:      in.Args,
				ExitCode:  &res.ExitCode,
				Stdout:    res.Stdout,
				Stderr:    res.Stderr,
				StartTime: start,
				Duration:  res.Duration,
			}
			if res.Truncation != nil {
				entry.StdoutTruncation = &session.Truncation{
					TotalLines: res.Truncation.Stdout.TotalLines, ReturnedLines: res.Truncation.Stdout.ReturnedLines,
					TotalBytes: res.Truncation.Stdout.TotalBytes, ReturnedBytes: res.Truncation.Stdout.ReturnedBytes,
					Truncated: res.Truncation.Stdout.Truncated,
				}
				entry.StderrTruncation = &session.Truncation{
					TotalLines: res.Truncation.Stderr.TotalLines, ReturnedLines: res.Truncation.Stderr.ReturnedLines,
					TotalBytes: res.Truncation.Stderr.TotalBytes, ReturnedBytes: res.Truncation.Stderr.ReturnedBytes,
					Truncated: res.Truncation.Stderr.Truncated,
				}
			}
			if err := srv.sessions.AppendHistory(name, entry); err != nil {
				// A history-recording failure must not change the returned result.
				logrus.WithField("component", "mcp").Warnf("append history for session %s: %v", name, err)
			}

			return RunCommandOutput{
				Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode, Success: res.Success,
				Duration: res.Duration, Truncation: res.Truncation, TimedOut: res.TimedOut, Error: res.Error,
			}, nil
		}

		// Identical in-flight or just-completed commands against the same
		// session/cwd/env are coalesced rather than re-executed.
		run := runOnce
		if key, keyErr := dedup.Key(dedupRunCommandKey{
			Session: name, Command: in.Command, Args: in.Args, Cwd: cwd, Env: env,
		}); keyErr == nil {
			run = func() (any, error) { return srv.dedup.Execute(key, runOnce) }
		}

		out, err := run()
		if err != nil {
			return nil, RunCommandOutput{}, err
		}

		result := out.(RunCommandOutput)
		return nil, result, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "create_shell_session",
		Description: "Create a new named persistent shell session",
	}, LogToolCall("create_shell_session", func(ctx context.Context, req *mcp.CallToolRequest, in CreateShellSessionInput) (*mcp.CallToolResult, SessionOutput, error) {
		cwd := ""
		if in.Cwd != nil {
			cwd = *in.Cwd
		}
		s, err := srv.sessions.Create(in.Name, cwd, in.Env)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		return nil, toSessionOutput(s), nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "list_shell_sessions",
		Description: "List every shell session",
	}, LogToolCall("list_shell_sessions", func(ctx context.Context, req *mcp.CallToolRequest, in ListShellSessionsInput) (*mcp.CallToolResult, ListShellSessionsOutput, error) {
		sessions := srv.sessions.ListSessions()
		out := make([]SessionOutput, len(sessions))
		for i, s := range sessions {
			out[i] = toSessionOutput(s)
		}
		return nil, ListShellSessionsOutput{Sessions: out}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "close_session",
		Description: "Close and delete a shell session (the default session cannot be closed)",
	}, LogToolCall("close_session", func(ctx context.Context, req *mcp.CallToolRequest, in CloseSessionInput) (*mcp.CallToolResult, StatusOutput, error) {
		sess, err := srv.sessions.Get(in.Session)
		if err != nil {
			return nil, StatusOutput{}, err
		}
		for _, p := range srv.processes.List(sess.ID, false) {
			if p.Status.IsTerminal() {
				continue
			}
			if err := srv.processes.Kill(p.ID, process.KillForce); err != nil {
				logrus.WithField("component", "mcp").Warnf("close_session: kill owned process %s: %v", p.ID, err)
			}
		}
		if err := srv.sessions.Delete(in.Session); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "closed"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "cd",
		Description: "Change a shell session's working directory",
	}, LogToolCall("cd", func(ctx context.Context, req *mcp.CallToolRequest, in CdInput) (*mcp.CallToolResult, PwdOutput, error) {
		name := sessionNameOrDefault(in.Session)
		s, err := srv.sessions.Update(name, session.Patch{Cwd: &in.Path})
		if err != nil {
			return nil, PwdOutput{}, err
		}
		return nil, PwdOutput{Cwd: s.Cwd}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "pwd",
		Description: "Get a shell session's current working directory",
	}, LogToolCall("pwd", func(ctx context.Context, req *mcp.CallToolRequest, in PwdInput) (*mcp.CallToolResult, PwdOutput, error) {
		name := sessionNameOrDefault(in.Session)
		s, err := srv.sessions.Get(name)
		if err != nil {
			return nil, PwdOutput{}, err
		}
		return nil, PwdOutput{Cwd: s.Cwd}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "history",
		Description: "Get a shell session's recent command history",
	}, LogToolCall("history", func(ctx context.Context, req *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
		name := sessionNameOrDefault(in.Session)
		s, err := srv.sessions.Get(name)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		entries := s.History
		if in.Limit != nil && *in.Limit > 0 && len(entries) > *in.Limit {
			entries = entries[len(entries)-*in.Limit:]
		}
		return nil, HistoryOutput{Entries: entries}, nil
	}))
}
