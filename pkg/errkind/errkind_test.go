package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "classified error",
			err:  New(Transport, "pipe closed"),
			want: Transport,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("call failed: %w", New(Timeout, "deadline")),
			want: Timeout,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: Timeout,
		},
		{
			name: "context cancel",
			err:  context.Canceled,
			want: Cancelled,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Transport, "nope", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestErrorsIsByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Newf(ToolExecution, "tool %s failed", "web_search"))
	if !errors.Is(err, New(ToolExecution, "")) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, New(Transport, "")) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(Transport, "reset")) {
		t.Error("Transport should be retryable")
	}
	if !Retryable(New(ToolExecution, "failed")) {
		t.Error("ToolExecution should be retryable")
	}
	if Retryable(New(InvalidArgument, "bad topk")) {
		t.Error("InvalidArgument must never be retried")
	}
	if Retryable(New(IndexMismatch, "metric")) {
		t.Error("IndexMismatch must never be retried")
	}
}

func TestMostInformative(t *testing.T) {
	timeout := New(Timeout, "agentic path")
	transport := New(Transport, "mcp pipe")
	internal := errors.New("unknown")

	if got := MostInformative(internal, transport, timeout); got != timeout {
		t.Errorf("MostInformative = %v, want timeout", got)
	}
	if got := MostInformative(internal, transport); got != transport {
		t.Errorf("MostInformative = %v, want transport", got)
	}
	if got := MostInformative(nil, nil); got != nil {
		t.Errorf("MostInformative with nils = %v, want nil", got)
	}
}
