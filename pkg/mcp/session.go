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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// maxLineSize bounds a single JSON-RPC line from the child.
const maxLineSize = 16 << 20

// session is one live stdio connection to a tool server subprocess. Writes
// are serialized under writeMu; a single reader goroutine matches responses
// to waiters by id. Unknown ids (detached waiters, notifications) are
// dropped.
type session struct {
	name  string
	stdin io.WriteCloser
	cmd   *exec.Cmd

	writeMu sync.Mutex
	nextID  atomic.Int64

	waitersMu sync.Mutex
	waiters   map[int64]chan *jsonRPCResponse

	tools  map[string]Tool
	logger *slog.Logger

	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// spawnSession starts the subprocess and completes the initialize handshake
// plus the initial tools/list.
func spawnSession(ctx context.Context, name, command string, args []string, env map[string]string) (*session, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "failed to open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "failed to open stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrapf(errkind.Transport, err, "failed to spawn tool server %q", command)
	}

	s := newSession(name, stdin, stdout, cmd)
	if err := s.handshake(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// newSession wires a session over arbitrary pipes. The command handle may be
// nil when the transport is not a subprocess.
func newSession(name string, stdin io.WriteCloser, stdout io.Reader, cmd *exec.Cmd) *session {
	s := &session{
		name:    name,
		stdin:   stdin,
		cmd:     cmd,
		waiters: make(map[int64]chan *jsonRPCResponse),
		tools:   make(map[string]Tool),
		logger:  logger.GetLogger().With("component", "mcp", "server", name),
		closed:  make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s
}

func (s *session) handshake(ctx context.Context) error {
	_, err := s.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "seeker", Version: "1.0"},
		Capabilities:    map[string]any{},
	})
	if err != nil {
		return errkind.Wrap(errkind.Transport, "initialize handshake failed", err)
	}
	if err := s.notify("notifications/initialized", nil); err != nil {
		return err
	}

	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return errkind.Wrap(errkind.Transport, "tools/list failed", err)
	}
	var listed listToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		return errkind.Wrap(errkind.Transport, "malformed tools/list result", err)
	}
	for _, t := range listed.Tools {
		s.tools[t.Name] = t
	}
	s.logger.Info("Tool server connected", "tools", len(s.tools))
	return nil
}

// hasTool reports whether the server advertised the tool during handshake.
func (s *session) hasTool(name string) bool {
	_, ok := s.tools[name]
	return ok
}

func (s *session) listTools() []Tool {
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out
}

// call sends one request and waits for its id-matched response. On deadline
// or cancel it sends a cancellation notice, detaches the waiter, and returns
// the context's error kind. The session stays usable for other calls.
func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)

	ch := make(chan *jsonRPCResponse, 1)
	s.waitersMu.Lock()
	s.waiters[id] = ch
	s.waitersMu.Unlock()

	if err := s.write(jsonRPCRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		s.detach(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, errkind.Newf(errkind.ToolExecution, "%s failed: %s (code %d)",
				method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil

	case <-ctx.Done():
		s.detach(id)
		// Best effort; the child may already be gone.
		_ = s.notify("notifications/cancelled", cancelledParams{RequestID: id, Reason: "deadline"})
		return nil, errkind.Wrapf(errkind.KindOf(ctx.Err()), ctx.Err(), "%s call aborted", method)

	case <-s.closed:
		return nil, errkind.Wrap(errkind.Transport, "session closed mid-call", s.closeErr)
	}
}

// notify sends a request without an id and does not wait.
func (s *session) notify(method string, params any) error {
	return s.write(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *session) write(req jsonRPCRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	payload = append(payload, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(payload); err != nil {
		return errkind.Wrap(errkind.Transport, "write to tool server failed", err)
	}
	return nil
}

func (s *session) detach(id int64) {
	s.waitersMu.Lock()
	delete(s.waiters, id)
	s.waitersMu.Unlock()
}

// readLoop is the session's single reader. It dispatches responses to
// waiters by id and drops notifications and responses nobody waits for.
func (s *session) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("Dropping malformed line from tool server", "error", err)
			continue
		}
		if resp.ID == nil {
			continue
		}

		s.waitersMu.Lock()
		ch, ok := s.waiters[*resp.ID]
		if ok {
			delete(s.waiters, *resp.ID)
		}
		s.waitersMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.shutdown(errkind.Wrap(errkind.Transport, "tool server stream ended", err))
}

// shutdown marks the session dead and wakes every pending waiter.
func (s *session) shutdown(err error) {
	s.once.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}

// close tears the session down: stdin closes, the child exits and is reaped.
func (s *session) close() {
	s.shutdown(errkind.New(errkind.Transport, "session closed"))
	_ = s.stdin.Close()
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
}

// alive reports whether the reader is still running.
func (s *session) alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}
