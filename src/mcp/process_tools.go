package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opslane/shellsup/src/buffer"
	"github.com/opslane/shellsup/src/process"
	"github.com/opslane/shellsup/src/search"
)

type RunBackgroundInput struct {
	Command string   `json:"command" jsonschema:"the command to execute"`
	Args    []string `json:"args,omitempty" jsonschema:"command arguments"`
	Session *string  `json:"session,omitempty" jsonschema:"shell session whose cwd/env to inherit"`
	Name    *string  `json:"name,omitempty" jsonschema:"a technical name for the process"`
}

type ProcessOutput struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Command   string     `json:"command"`
	Args      []string   `json:"args,omitempty"`
	PID       int        `json:"pid"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Name      string     `json:"name,omitempty"`
}

func toProcessOutput(s process.Snapshot) ProcessOutput {
	return ProcessOutput{
		ID: s.ID, SessionID: s.SessionID, Command: s.Command, Args: s.Args,
		PID: s.PID, Status: string(s.Status), StartTime: s.StartTime,
		EndTime: s.EndTime, ExitCode: s.ExitCode, Name: s.Name,
	}
}

type ListProcessesInput struct {
	Session         *string `json:"session,omitempty" jsonschema:"filter by shell session id"`
	Limit           *int    `json:"limit,omitempty" jsonschema:"maximum number of entries"`
	Offset          *int    `json:"offset,omitempty" jsonschema:"number of entries to skip"`
	IncludeOrphaned *bool   `json:"includeOrphaned,omitempty" jsonschema:"include ORPHANED processes discovered at startup"`
}

type ListProcessesOutput struct {
	Processes []ProcessOutput `json:"processes"`
}

type ProcessIdentifierInput struct {
	ProcessID string `json:"processId" jsonschema:"process id or name"`
}

type GetProcessOutputInput struct {
	ProcessID     string  `json:"processId"`
	Lines         *int    `json:"lines,omitempty" jsonschema:"maximum lines to return"`
	FromLine      *int64  `json:"fromLine,omitempty" jsonschema:"return lines after this line number"`
	Search        *string `json:"search,omitempty" jsonschema:"pattern to search for"`
	SearchType    *string `json:"searchType,omitempty" jsonschema:"text|regex|glob"`
	CaseSensitive *bool   `json:"caseSensitive,omitempty"`
	InvertMatch   *bool   `json:"invertMatch,omitempty"`
	ShowContext   *int    `json:"showContext,omitempty" jsonschema:"number of context lines around each match"`
}

type GetProcessOutputOutput struct {
	Lines []process.LineResult `json:"lines"`
}

type StreamProcessOutputInput struct {
	ProcessID string `json:"processId"`
	AfterLine *int64 `json:"afterLine,omitempty"`
	Timeout   *int   `json:"timeout,omitempty" jsonschema:"milliseconds to wait for new output"`
	MaxLines  *int   `json:"maxLines,omitempty"`
}

type StreamProcessOutputOutput struct {
	Lines    []buffer.OutputLine `json:"lines"`
	LastLine int64               `json:"lastLine"`
}

type KillProcessInput struct {
	ProcessID string  `json:"processId"`
	Signal    *string `json:"signal,omitempty" jsonschema:"graceful|force"`
}

type SaveProcessOutputInput struct {
	ProcessID       string  `json:"processId"`
	FilePath        string  `json:"filePath"`
	Format          *string `json:"format,omitempty" jsonschema:"text|json"`
	IncludeMetadata *bool   `json:"includeMetadata,omitempty"`
}

type CleanupOrphansInput struct {
	Mode  *string `json:"mode,omitempty" jsonschema:"list|kill|interactive"`
	Force *bool   `json:"force,omitempty"`
}

type CleanupOrphansOutput struct {
	Processes []ProcessOutput `json:"processes"`
}

type KillAllMatchingInput struct {
	Pattern     string  `json:"pattern"`
	PatternType *string `json:"patternType,omitempty" jsonschema:"text|regex|glob"`
	Signal      *string `json:"signal,omitempty" jsonschema:"graceful|force"`
	DryRun      *bool   `json:"dryRun,omitempty"`
}

type KillAllMatchingOutput struct {
	Matched []ProcessOutput `json:"matched"`
}

func (srv *Server) registerProcessTools() {
	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "run_background",
		Description: "Start a command as a supervised background process",
	}, LogToolCall("run_background", func(ctx context.Context, req *mcp.CallToolRequest, in RunBackgroundInput) (*mcp.CallToolResult, ProcessOutput, error) {
		name := sessionNameOrDefault(in.Session)
		sess, err := srv.sessions.Get(name)
		if err != nil {
			return nil, ProcessOutput{}, err
		}

		procName := ""
		if in.Name != nil {
			procName = *in.Name
		}

		p, err := srv.processes.Start(ctx, sess.ID, in.Command, in.Args, process.StartOptions{
			Cwd: sess.Cwd, Env: sess.Env, Name: procName,
		})
		if err != nil {
			return nil, ProcessOutput{}, err
		}
		snap, err := srv.processes.Get(p.ID)
		if err != nil {
			return nil, ProcessOutput{}, err
		}
		return nil, toProcessOutput(snap), nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "list_processes",
		Description: "List supervised background processes",
	}, LogToolCall("list_processes", func(ctx context.Context, req *mcp.CallToolRequest, in ListProcessesInput) (*mcp.CallToolResult, ListProcessesOutput, error) {
		sessionID := ""
		if in.Session != nil {
			sessionID = *in.Session
		}
		includeOrphaned := false
		if in.IncludeOrphaned != nil {
			includeOrphaned = *in.IncludeOrphaned
		}

		all := srv.processes.List(sessionID, includeOrphaned)
		offset := 0
		if in.Offset != nil {
			offset = *in.Offset
		}
		if offset > len(all) {
			offset = len(all)
		}
		all = all[offset:]
		if in.Limit != nil && *in.Limit > 0 && len(all) > *in.Limit {
			all = all[:*in.Limit]
		}

		out := make([]ProcessOutput, len(all))
		for i, p := range all {
			out[i] = toProcessOutput(p)
		}
		return nil, ListProcessesOutput{Processes: out}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "get_process_output",
		Description: "Read a background process's captured output, optionally searching it",
	}, LogToolCall("get_process_output", func(ctx context.Context, req *mcp.CallToolRequest, in GetProcessOutputInput) (*mcp.CallToolResult, GetProcessOutputOutput, error) {
		opts := process.GetOutputOptions{}
		if in.Lines != nil {
			opts.Limit = *in.Lines
		}
		if in.FromLine != nil {
			opts.AfterLine = *in.FromLine
		}
		if in.Search != nil {
			opts.Search = *in.Search
		}
		if in.SearchType != nil {
			opts.SearchType = search.Mode(*in.SearchType)
		}
		if in.CaseSensitive != nil {
			opts.CaseSensitive = *in.CaseSensitive
		}
		if in.InvertMatch != nil {
			opts.InvertMatch = *in.InvertMatch
		}
		if in.ShowContext != nil {
			opts.ContextLines = *in.ShowContext
		}

		lines, err := srv.processes.GetOutput(in.ProcessID, opts)
		if err != nil {
			return nil, GetProcessOutputOutput{}, err
		}
		return nil, GetProcessOutputOutput{Lines: lines}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "stream_process_output",
		Description: "Wait for and return new output lines since afterLine, for resumable paging",
	}, LogToolCall("stream_process_output", func(ctx context.Context, req *mcp.CallToolRequest, in StreamProcessOutputInput) (*mcp.CallToolResult, StreamProcessOutputOutput, error) {
		var afterLine int64
		if in.AfterLine != nil {
			afterLine = *in.AfterLine
		}
		timeout := 30 * time.Second
		if in.Timeout != nil {
			timeout = time.Duration(*in.Timeout) * time.Millisecond
		}
		maxLines := 0
		if in.MaxLines != nil {
			maxLines = *in.MaxLines
		}

		lines, last, err := srv.processes.StreamOutput(ctx, in.ProcessID, afterLine, timeout, maxLines)
		if err != nil {
			return nil, StreamProcessOutputOutput{}, err
		}
		return nil, StreamProcessOutputOutput{Lines: lines, LastLine: last}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "kill_process",
		Description: "Kill a background process gracefully (SIGTERM) or forcefully (SIGKILL)",
	}, LogToolCall("kill_process", func(ctx context.Context, req *mcp.CallToolRequest, in KillProcessInput) (*mcp.CallToolResult, StatusOutput, error) {
		mode := process.KillGraceful
		if in.Signal != nil && *in.Signal == "force" {
			mode = process.KillForce
		}
		if err := srv.processes.Kill(in.ProcessID, mode); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "killed"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "save_process_output",
		Description: "Save a background process's captured output to a file",
	}, LogToolCall("save_process_output", func(ctx context.Context, req *mcp.CallToolRequest, in SaveProcessOutputInput) (*mcp.CallToolResult, StatusOutput, error) {
		format := "text"
		if in.Format != nil {
			format = *in.Format
		}
		includeMetadata := false
		if in.IncludeMetadata != nil {
			includeMetadata = *in.IncludeMetadata
		}
		if err := srv.processes.SaveOutput(in.ProcessID, in.FilePath, format, includeMetadata); err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, StatusOutput{Status: "saved"}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "cleanup_orphans",
		Description: "List or kill processes discovered ORPHANED at startup",
	}, LogToolCall("cleanup_orphans", func(ctx context.Context, req *mcp.CallToolRequest, in CleanupOrphansInput) (*mcp.CallToolResult, CleanupOrphansOutput, error) {
		mode := process.CleanupList
		if in.Mode != nil {
			mode = process.CleanupMode(*in.Mode)
		}
		force := false
		if in.Force != nil {
			force = *in.Force
		}

		snaps, err := srv.processes.CleanupOrphans(mode, force)
		if err != nil {
			return nil, CleanupOrphansOutput{}, err
		}
		out := make([]ProcessOutput, len(snaps))
		for i, s := range snaps {
			out[i] = toProcessOutput(s)
		}
		return nil, CleanupOrphansOutput{Processes: out}, nil
	}))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "kill_all_matching",
		Description: "Kill every process whose command line matches a pattern",
	}, LogToolCall("kill_all_matching", func(ctx context.Context, req *mcp.CallToolRequest, in KillAllMatchingInput) (*mcp.CallToolResult, KillAllMatchingOutput, error) {
		kind := search.ModeText
		if in.PatternType != nil {
			kind = search.Mode(*in.PatternType)
		}
		mode := process.KillGraceful
		if in.Signal != nil && *in.Signal == "force" {
			mode = process.KillForce
		}
		dryRun := false
		if in.DryRun != nil {
			dryRun = *in.DryRun
		}

		snaps, err := srv.processes.KillAllMatching(in.Pattern, kind, mode, dryRun)
		if err != nil {
			return nil, KillAllMatchingOutput{}, err
		}
		out := make([]ProcessOutput, len(snaps))
		for i, s := range snaps {
			out[i] = toProcessOutput(s)
		}
		return nil, KillAllMatchingOutput{Matched: out}, nil
	}))
}
