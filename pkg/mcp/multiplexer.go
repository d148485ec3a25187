// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// CallObserver is notified of every tool invocation, feeding the exported
// call counters. Implementations must be safe for concurrent use.
type CallObserver interface {
	ObserveToolCall(server string)
}

// Multiplexer manages one session per configured server name. Sessions
// connect lazily on first use and are respawned after transport failures.
// Safe for concurrent use.
type Multiplexer struct {
	cfg      config.MCPConfig
	observer CallObserver
	logger   *slog.Logger

	// spawn is swapped out in tests.
	spawn func(ctx context.Context, server string, cfg config.MCPServerConfig) (*session, error)

	mu       sync.Mutex
	sessions map[string]*session
}

// NewMultiplexer builds a multiplexer from configuration. No subprocesses
// are spawned until the first call. obs may be nil.
func NewMultiplexer(cfg config.MCPConfig, obs CallObserver) *Multiplexer {
	return &Multiplexer{
		cfg:      cfg,
		observer: obs,
		logger:   logger.GetLogger().With("component", "mcp"),
		spawn: func(ctx context.Context, server string, cfg config.MCPServerConfig) (*session, error) {
			return spawnSession(ctx, server, cfg.Command, cfg.Args, cfg.Env)
		},
		sessions: make(map[string]*session),
	}
}

// Servers returns the configured server names.
func (m *Multiplexer) Servers() []string {
	names := make([]string, 0, len(m.cfg.Servers))
	for name := range m.cfg.Servers {
		names = append(names, name)
	}
	return names
}

// sessionFor returns the live session for a server, spawning one if needed.
func (m *Multiplexer) sessionFor(ctx context.Context, server string) (*session, error) {
	srvCfg, ok := m.cfg.Servers[server]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "tool server %q is not configured", server)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[server]; ok && s.alive() {
		return s, nil
	}

	s, err := m.spawn(ctx, server, srvCfg)
	if err != nil {
		return nil, err
	}
	m.sessions[server] = s
	return s, nil
}

// respawn discards a dead session and spawns a fresh one with the original
// parameters.
func (m *Multiplexer) respawn(ctx context.Context, server string, dead *session) (*session, error) {
	m.mu.Lock()
	if current, ok := m.sessions[server]; ok && current == dead {
		delete(m.sessions, server)
	}
	m.mu.Unlock()

	dead.close()
	return m.sessionFor(ctx, server)
}

// ListTools returns the tools advertised by a server.
func (m *Multiplexer) ListTools(ctx context.Context, server string) ([]Tool, error) {
	s, err := m.sessionFor(ctx, server)
	if err != nil {
		return nil, err
	}
	return s.listTools(), nil
}

// CallTool invokes a named tool with a per-call deadline. On transport error
// the session is torn down, respawned, and the call retried once. Timeouts
// and tool errors are returned as-is; further retries are the caller's
// responsibility.
func (m *Multiplexer) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallToolResult, error) {
	timeout := time.Duration(m.cfg.CallTimeoutSeconds) * time.Second

	s, err := m.sessionFor(ctx, server)
	if err != nil {
		return nil, err
	}
	if !s.hasTool(tool) {
		return nil, errkind.Newf(errkind.NotFound, "tool %q is not provided by server %q", tool, server)
	}
	if m.observer != nil {
		m.observer.ObserveToolCall(server)
	}

	result, err := m.callOnce(ctx, s, tool, args, timeout)
	if err != nil && errkind.Is(err, errkind.Transport) && ctx.Err() == nil {
		m.logger.Warn("Tool call hit transport error, respawning server",
			"server", server, "tool", tool, "error", err)
		s, err = m.respawn(ctx, server, s)
		if err != nil {
			return nil, err
		}
		result, err = m.callOnce(ctx, s, tool, args, timeout)
	}
	return result, err
}

func (m *Multiplexer) callOnce(ctx context.Context, s *session, tool string, args map[string]any, timeout time.Duration) (*CallToolResult, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := s.call(callCtx, "tools/call", callToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errkind.Wrap(errkind.ToolExecution, "malformed tool result", err)
	}
	if result.IsError {
		return nil, errkind.Newf(errkind.ToolExecution, "tool %q reported an error: %s", tool, result.Text())
	}
	return &result, nil
}

// Close disconnects every live session.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for name, s := range sessions {
		s.close()
		m.logger.Debug("Tool server disconnected", "server", name)
	}
	return nil
}
