// Package mcp wires the shell session & process supervisor's domain
// packages to a stdio-transported Model Context Protocol tool surface.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/batch"
	"github.com/opslane/shellsup/src/dedup"
	"github.com/opslane/shellsup/src/interactive"
	"github.com/opslane/shellsup/src/process"
	"github.com/opslane/shellsup/src/session"
)

// Server owns the domain state and the registered MCP tool surface.
type Server struct {
	mcpServer   *mcp.Server
	sessions    *session.Store
	processes   *process.Supervisor
	interactive *interactive.Manager
	dedup       *dedup.Deduplicator
}

// NewServer constructs a Server rooted at stateRoot and registers every
// tool named in the external interface.
func NewServer(stateRoot string) (*Server, error) {
	logrus.Info("initializing shellsup MCP server")

	sessions, err := session.New(stateRoot)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	processes, err := process.New(stateRoot)
	if err != nil {
		return nil, fmt.Errorf("init process supervisor: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "shellsup",
		Version: "1.0.0",
	}, nil)

	s := &Server{
		mcpServer:   mcpServer,
		sessions:    sessions,
		processes:   processes,
		interactive: interactive.New(interactive.Config{}),
		dedup:       dedup.New(),
	}

	s.registerSessionTools()
	s.registerProcessTools()
	s.registerBatchTools()
	s.registerInteractiveTools()

	logrus.Info("tool surface registered")
	return s, nil
}

// Serve blocks, running the MCP server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

// Sessions exposes the shell session store for the diagnostics HTTP surface.
func (s *Server) Sessions() *session.Store { return s.sessions }

// Processes exposes the process supervisor for the diagnostics HTTP surface.
func (s *Server) Processes() *process.Supervisor { return s.processes }

// Interactive exposes the interactive PTY manager for the diagnostics HTTP surface.
func (s *Server) Interactive() *interactive.Manager { return s.interactive }

// Shutdown flushes session state and releases interactive PTYs. It does
// not wait indefinitely.
func (s *Server) Shutdown() {
	s.sessions.FlushAll()
	s.dedup.Stop()
	for _, info := range s.interactive.List() {
		if err := s.interactive.Close(info.ID); err != nil {
			logrus.WithField("component", "mcp").Warnf("shutdown: close interactive session %s: %v", info.ID, err)
		}
	}
}

// LogToolCall wraps a tool handler with start/duration/error logging, and
// guarantees a non-empty error message since some MCP clients reject a
// tool result with is_error=true but empty content.
func LogToolCall[T any, R any](toolName string, handler func(ctx context.Context, req *mcp.CallToolRequest, args T) (*mcp.CallToolResult, R, error)) func(context.Context, *mcp.CallToolRequest, T) (*mcp.CallToolResult, R, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args T) (*mcp.CallToolResult, R, error) {
		start := time.Now()
		logrus.Debugf("tool call started: %s", toolName)

		result, output, err := handler(ctx, req, args)

		duration := time.Since(start)
		if err != nil {
			logrus.Errorf("tool call failed: %s (duration: %v, error: %v)", toolName, duration, err)
			if err.Error() == "" {
				err = fmt.Errorf("tool %s failed with unknown error", toolName)
			}
		} else {
			logrus.Debugf("tool call completed: %s (duration: %v)", toolName, duration)
		}

		return result, output, err
	}
}
