package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/seeker/pkg/errkind"
)

// fakeServer speaks line-delimited JSON-RPC over in-memory pipes, standing in
// for a tool server subprocess.
type fakeServer struct {
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter

	mu       sync.Mutex
	received []jsonRPCRequest

	// handle maps methods to result payloads. Methods absent from the map
	// get no response at all.
	handle map[string]any
}

func startFake(t *testing.T, handle map[string]any) (*session, *fakeServer) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	f := &fakeServer{stdinR: stdinR, stdoutW: stdoutW, handle: handle}
	go f.serve()

	s := newSession("fake", stdinW, stdoutR, nil)
	t.Cleanup(func() {
		s.close()
		stdoutW.Close()
	})
	return s, f
}

func (f *fakeServer) serve() {
	scanner := bufio.NewScanner(f.stdinR)
	for scanner.Scan() {
		var req jsonRPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, req)
		f.mu.Unlock()

		if req.ID == nil {
			continue
		}
		result, ok := f.handle[req.Method]
		if !ok {
			continue
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": result}
		payload, _ := json.Marshal(resp)
		payload = append(payload, '\n')
		f.stdoutW.Write(payload)
	}
}

func (f *fakeServer) requests(method string) []jsonRPCRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jsonRPCRequest
	for _, r := range f.received {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func defaultHandlers() map[string]any {
	return map[string]any{
		"initialize": map[string]any{"protocolVersion": protocolVersion},
		"tools/list": listToolsResult{Tools: []Tool{
			{Name: "web_search", Description: "search the web"},
		}},
		"tools/call": CallToolResult{Content: []ContentItem{{Type: "text", Text: "ok"}}},
	}
}

func TestHandshakeListsTools(t *testing.T) {
	s, _ := startFake(t, defaultHandlers())

	if err := s.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !s.hasTool("web_search") {
		t.Error("web_search should be advertised")
	}
	if s.hasTool("nonexistent") {
		t.Error("unknown tool should not be advertised")
	}
}

func TestCallMatchesResponseByID(t *testing.T) {
	s, _ := startFake(t, defaultHandlers())
	if err := s.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	// Concurrent calls must each get their own response.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := s.call(context.Background(), "tools/call",
				callToolParams{Name: "web_search"})
			if err != nil {
				t.Errorf("call: %v", err)
				return
			}
			var result CallToolResult
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Errorf("unmarshal: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestCallDeadlineSendsCancelNotice(t *testing.T) {
	// tools/call is absent from the handler map, so the call never gets a
	// response and must time out.
	handlers := defaultHandlers()
	delete(handlers, "tools/call")
	s, f := startFake(t, handlers)
	if err := s.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.call(ctx, "tools/call", callToolParams{Name: "web_search"})
	if !errkind.Is(err, errkind.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	// The cancellation notice is written after the deadline fires.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(f.requests("notifications/cancelled")) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	notices := f.requests("notifications/cancelled")
	if len(notices) != 1 {
		t.Fatalf("cancel notices = %d, want 1", len(notices))
	}
	if notices[0].ID != nil {
		t.Error("cancellation must be a notification, not a request")
	}

	// The session stays usable after a cancelled call.
	raw, err := s.call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("follow-up call: %v", err)
	}
	if len(raw) == 0 {
		t.Error("follow-up call returned empty result")
	}
}

func TestToolErrorResponse(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	defer stdoutW.Close()

	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req jsonRPCRequest
			if json.Unmarshal(scanner.Bytes(), &req) != nil || req.ID == nil {
				continue
			}
			resp := map[string]any{
				"jsonrpc": "2.0",
				"id":      *req.ID,
				"error":   map[string]any{"code": -32601, "message": "no such method"},
			}
			payload, _ := json.Marshal(resp)
			stdoutW.Write(append(payload, '\n'))
		}
	}()

	s := newSession("fake", stdinW, stdoutR, nil)
	defer s.close()

	_, err := s.call(context.Background(), "tools/call", nil)
	if !errkind.Is(err, errkind.ToolExecution) {
		t.Fatalf("err = %v, want tool_execution", err)
	}
}

func TestStreamEndFailsPendingCalls(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// Swallow writes so call() does not block on the pipe.
	go io.Copy(io.Discard, stdinR)

	s := newSession("fake", stdinW, stdoutR, nil)
	defer s.close()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.call(context.Background(), "tools/call", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	stdoutW.Close()

	select {
	case err := <-errCh:
		if !errkind.Is(err, errkind.Transport) {
			t.Fatalf("err = %v, want transport", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not released on stream end")
	}
	if s.alive() {
		t.Error("session should be dead after stream end")
	}
}
