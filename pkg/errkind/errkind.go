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

// Package errkind defines the error taxonomy shared by every component.
//
// Components never branch on error strings; they classify failures into a
// closed set of kinds and callers inspect the kind with Is/KindOf.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

const (
	// InvalidArgument marks caller mistakes. Never retried.
	InvalidArgument Kind = "invalid_argument"

	// NotFound marks missing collections, documents, or tools.
	NotFound Kind = "not_found"

	// Timeout marks deadline expiry on an external call or path.
	Timeout Kind = "timeout"

	// Cancelled marks caller-initiated cancellation.
	Cancelled Kind = "cancelled"

	// Transport marks connection-level failures (pipe closed, RPC reset).
	Transport Kind = "transport"

	// ToolExecution marks a tool that ran and reported failure.
	ToolExecution Kind = "tool_execution"

	// EmbeddingFailure marks embedder errors after retry.
	EmbeddingFailure Kind = "embedding_failure"

	// GenerationFailure marks generation-service errors after retry.
	GenerationFailure Kind = "generation_failure"

	// IndexMismatch marks an index/search metric disagreement. Never retried.
	IndexMismatch Kind = "index_mismatch"

	// Capacity marks pool or queue exhaustion.
	Capacity Kind = "capacity"

	// Internal marks everything else.
	Internal Kind = "internal"
)

// Error carries a kind alongside a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf classifies an existing error with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is matching against another *Error by kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the kind from an error chain.
// Context errors classify to Timeout/Cancelled; unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error kind may be retried once after
// reconnection. InvalidArgument and IndexMismatch are never retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transport, ToolExecution:
		return true
	default:
		return false
	}
}

// informativeness orders kinds for surfacing when multiple failures compete.
// Timeout beats Transport beats everything else, Internal last.
var informativeness = map[Kind]int{
	Timeout:           6,
	Transport:         5,
	ToolExecution:     4,
	GenerationFailure: 4,
	EmbeddingFailure:  4,
	NotFound:          3,
	IndexMismatch:     3,
	InvalidArgument:   3,
	Capacity:          2,
	Cancelled:         1,
	Internal:          0,
}

// MostInformative picks the error whose kind tells the caller the most.
// Used by the router when both paths fail.
func MostInformative(errs ...error) error {
	var best error
	bestRank := -1
	for _, err := range errs {
		if err == nil {
			continue
		}
		rank := informativeness[KindOf(err)]
		if rank > bestRank {
			best = err
			bestRank = rank
		}
	}
	return best
}
