package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opslane/shellsup/src/batch"
)

// BatchCommandInput mirrors batch.Command for the JSON-RPC boundary.
type BatchCommandInput struct {
	Command         string            `json:"command"`
	Args            []string          `json:"args,omitempty"`
	Cwd             *string           `json:"cwd,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	ContinueOnError bool              `json:"continueOnError,omitempty"`
	Condition       *ConditionInput   `json:"condition,omitempty"`
	RetryCount      *int              `json:"retryCount,omitempty"`
	RetryDelayMs    *int              `json:"retryDelayMs,omitempty"`
	MaxStdoutLines  *int              `json:"maxStdoutLines,omitempty" jsonschema:"max stdout lines before truncation for this command"`
	MaxStderrLines  *int              `json:"maxStderrLines,omitempty" jsonschema:"max stderr lines before truncation for this command"`
}

type ConditionInput struct {
	Source      string `json:"source"`
	Operator    string `json:"operator"`
	Value       any    `json:"value"`
	TargetIndex *int   `json:"targetIndex,omitempty"`
}

type BatchExecuteInput struct {
	Commands           []BatchCommandInput `json:"commands"`
	Parallel           *bool               `json:"parallel,omitempty"`
	MaxParallel        *int                `json:"maxParallel,omitempty"`
	Timeout            *int                `json:"timeout,omitempty" jsonschema:"overall plan timeout in seconds"`
	StopOnFirstFailure *bool               `json:"stopOnFirstFailure,omitempty"`
	Session            *string             `json:"session,omitempty"`
	MaxStdoutLines     *int                `json:"maxStdoutLines,omitempty" jsonschema:"default max stdout lines applied to any command that doesn't set its own"`
	MaxStderrLines     *int                `json:"maxStderrLines,omitempty" jsonschema:"default max stderr lines applied to any command that doesn't set its own"`
}

type BatchExecuteOutput struct {
	BatchID         string         `json:"batchId"`
	Results         []batch.Result `json:"results"`
	TotalCommands   int            `json:"totalCommands"`
	ExecutedCount   int            `json:"executedCount"`
	SkippedCount    int            `json:"skippedCount"`
	SuccessCount    int            `json:"successCount"`
	FailureCount    int            `json:"failureCount"`
	TotalDuration   time.Duration  `json:"totalDuration"`
	Parallel        bool           `json:"parallel"`
	OutputTruncated bool           `json:"outputTruncated,omitempty"`
}

func toBatchCommands(in []BatchCommandInput) []batch.Command {
	out := make([]batch.Command, len(in))
	for i, c := range in {
		cmd := batch.Command{
			Command:         c.Command,
			Args:            c.Args,
			Env:             c.Env,
			ContinueOnError: c.ContinueOnError,
		}
		if c.Cwd != nil {
			cmd.Cwd = *c.Cwd
		}
		if c.Condition != nil {
			cmd.Condition = &batch.Condition{
				Source:      batch.ConditionSource(c.Condition.Source),
				Operator:    batch.ConditionOperator(c.Condition.Operator),
				Value:       c.Condition.Value,
				TargetIndex: c.Condition.TargetIndex,
			}
		}
		if c.RetryCount != nil {
			delay := time.Duration(0)
			if c.RetryDelayMs != nil {
				delay = time.Duration(*c.RetryDelayMs) * time.Millisecond
			}
			cmd.Retry = &batch.RetryPolicy{RetryCount: *c.RetryCount, RetryDelay: delay}
		}
		if c.MaxStdoutLines != nil {
			cmd.MaxStdoutLines = *c.MaxStdoutLines
		}
		if c.MaxStderrLines != nil {
			cmd.MaxStderrLines = *c.MaxStderrLines
		}
		out[i] = cmd
	}
	return out
}

func toBatchExecuteOutput(p *batch.Plan) BatchExecuteOutput {
	return BatchExecuteOutput{
		BatchID: p.BatchID, Results: p.Results, TotalCommands: p.TotalCommands,
		ExecutedCount: p.ExecutedCount, SkippedCount: p.SkippedCount,
		SuccessCount: p.SuccessCount, FailureCount: p.FailureCount,
		TotalDuration: p.TotalDuration, Parallel: p.Parallel, OutputTruncated: p.OutputTruncated,
	}
}

func (srv *Server) registerBatchTools() {
	run := func(ctx context.Context, req *mcp.CallToolRequest, in BatchExecuteInput) (*mcp.CallToolResult, BatchExecuteOutput, error) {
		opts := batch.Options{}
		if in.Parallel != nil {
			opts.Parallel = *in.Parallel
		}
		if in.MaxParallel != nil {
			opts.MaxParallel = *in.MaxParallel
		}
		if in.Timeout != nil {
			opts.Timeout = time.Duration(*in.Timeout) * time.Second
		}
		if in.StopOnFirstFailure != nil {
			opts.StopOnFirstFailure = *in.StopOnFirstFailure
		}
		if in.Session != nil {
			if sess, err := srv.sessions.Get(sessionNameOrDefault(in.Session)); err == nil {
				opts.Cwd = sess.Cwd
				opts.Env = sess.Env
			}
		}
		if in.MaxStdoutLines != nil {
			opts.MaxStdoutLines = *in.MaxStdoutLines
		}
		if in.MaxStderrLines != nil {
			opts.MaxStderrLines = *in.MaxStderrLines
		}

		plan, err := batch.Run(ctx, toBatchCommands(in.Commands), opts)
		if err != nil {
			return nil, BatchExecuteOutput{}, err
		}
		return nil, toBatchExecuteOutput(plan), nil
	}

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "batch_execute",
		Description: "Execute an ordered list of commands sequentially or with bounded parallelism",
	}, LogToolCall("batch_execute", run))

	mcp.AddTool(srv.mcpServer, &mcp.Tool{
		Name:        "batch_execute_enhanced",
		Description: "Execute a command plan with per-command conditions and retries (same semantics as batch_execute)",
	}, LogToolCall("batch_execute_enhanced", run))
}
