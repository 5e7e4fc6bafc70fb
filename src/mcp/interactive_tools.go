package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opslane/shellsup/src/interactive"
)

type SSHInteractiveStartInput struct {
	Host     string  `json:"host"`
	Port     *int    `json:"port,omitempty"`
	User     string  `json:"user"`
	Password *string `json:"password,omitempty"`
	KeyPEM   *string `json:"keyPem,omitempty" jsonschema:"PEM-encoded private key"`
	Cols     *int    `json:"cols,omitempty"`
	Rows     *int    `json:"rows,omitempty"`
}

type SSHSessionIDInput struct {
	SessionID string `json:"sessionId"`
}

type SSHInteractiveSendInput struct {
	SessionID     string `json:"sessionId"`
	Input         string `json:"input"`
	AppendNewline *bool  `json:"appendNewline,omitempty"`
}

type SSHInteractiveControlInput struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key" jsonschema:"caret-notation control key, e.g. ^C"`
}

type SSHInteractiveOutputInput struct {
	SessionID string `json:"sessionId"`
	AfterLine *int64 `json:"afterLine,omitempty"`
}

type SSHInteractiveOutputOutput struct {
	Lines []OutputLineView `json:"lines"`
}

type OutputLineView struct {
	LineNumber int64  `json:"lineNumber"`
	Content    string `json:"content"`
}

type SSHInteractiveWaitInput struct {
	SessionID string `json:"sessionId"`
	Timeout   *int   `json:"timeout,omitempty" jsonschema:"milliseconds to wait for a terminal CONNECTED/ERROR status"`
}

type SSHInteractiveWaitOutput struct {
	Status string `json:"status"`
}

type SSHInteractiveResizeInput struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type SSHInteractiveListOutput struct {
	Sessions []interactive.Info `json:"sessions"`
}

func (srv *Server) registerInteractiveTools() {
	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_start",
		Description: "Open an interactive SSH session backed by a remote PTY",
	}, LogToolCall("ssh_interactive_start", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveStartInput) (*mcp.CallToolResult, SessionIDOutput, error) {
		target := interactive.SSHTarget{Host: in.Host, User: in.User}
		if in.Port != nil {
			target.Port = *in.Port
		}
		if in.Password != nil {
			target.Password = *in.Password
		}
		if in.KeyPEM != nil {
			target.KeyPEM = []byte(*in.KeyPEM)
		}
		cols, rows := 80, 24
		if in.Cols != nil {
			cols = *in.Cols
		}
		if in.Rows != nil {
			rows = *in.Rows
		}

		s, err := srv.interactive.StartSSH(target, uint16(cols), uint16(rows))
		if err != nil {
			return nil, SessionIDOutput{}, err
		}
		return nil, SessionIDOutput{SessionID: s.ID}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_send",
		Description: "Send input to an interactive SSH session",
	}, LogToolCall("ssh_interactive_send", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveSendInput) (*mcp.CallToolResult, StatusOutput, error) {
		appendNewline := true
		if in.AppendNewline != nil {
			appendNewline = *in.AppendNewline
		}
		if err := srv.interactive.SendInput(in.SessionID, in.Input, appendNewline); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "sent"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_control",
		Description: "Send a control character (e.g. ^C) to an interactive SSH session",
	}, LogToolCall("ssh_interactive_control", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveControlInput) (*mcp.CallToolResult, StatusOutput, error) {
		if err := srv.interactive.SendInput(in.SessionID, in.Key, false); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "sent"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_output",
		Description: "Read an interactive SSH session's captured output",
	}, LogToolCall("ssh_interactive_output", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveOutputInput) (*mcp.CallToolResult, SSHInteractiveOutputOutput, error) {
		var afterLine int64
		if in.AfterLine != nil {
			afterLine = *in.AfterLine
		}
		lines, err := srv.interactive.Output(in.SessionID, afterLine)
		if err != nil {
			return nil, SSHInteractiveOutputOutput{}, err
		}
		out := make([]OutputLineView, len(lines))
		for i, l := range lines {
			out[i] = OutputLineView{LineNumber: l.LineNumber, Content: l.Content}
		}
		return nil, SSHInteractiveOutputOutput{Lines: out}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_wait",
		Description: "Wait for an interactive SSH session to leave CONNECTING",
	}, LogToolCall("ssh_interactive_wait", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveWaitInput) (*mcp.CallToolResult, SSHInteractiveWaitOutput, error) {
		timeout := interactive.ConnectTimeout
		if in.Timeout != nil {
			timeout = time.Duration(*in.Timeout) * time.Millisecond
		}
		deadline := time.Now().Add(timeout)
		for {
			status, err := srv.interactive.Status(in.SessionID)
			if err != nil {
				return nil, SSHInteractiveWaitOutput{}, err
			}
			if status != interactive.StatusConnecting || time.Now().After(deadline) {
				return nil, SSHInteractiveWaitOutput{Status: string(status)}, nil
			}
			select {
			case <-ctx.Done():
				return nil, SSHInteractiveWaitOutput{Status: string(status)}, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_resize",
		Description: "Resize an interactive SSH session's terminal",
	}, LogToolCall("ssh_interactive_resize", func(ctx context.Context, req *mcp.CallToolRequest, in SSHInteractiveResizeInput) (*mcp.CallToolResult, StatusOutput, error) {
		if err := srv.interactive.Resize(in.SessionID, uint16(in.Cols), uint16(in.Rows)); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "resized"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_close",
		Description: "Close an interactive SSH session",
	}, LogToolCall("ssh_interactive_close", func(ctx context.Context, req *mcp.CallToolRequest, in SSHSessionIDInput) (*mcp.CallToolResult, StatusOutput, error) {
		if err := srv.interactive.Close(in.SessionID); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "closed"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "ssh_interactive_list",
		Description: "List every interactive SSH session (metadata only, no credentials)",
	}, LogToolCall("ssh_interactive_list", func(ctx context.Context, req *mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, SSHInteractiveListOutput, error) {
		return nil, SSHInteractiveListOutput{Sessions: srv.interactive.List()}, nil
	}))
}

type SessionIDOutput struct {
	SessionID string `json:"sessionId"`
}
