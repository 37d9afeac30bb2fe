/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package migerr defines the error-kind taxonomy of spec.md §7: Invalid,
// NotFound, Upstream, IO, Execution and InvalidState. Every error that
// crosses a component boundary is wrapped in one of these kinds so
// Stage-1's controller and Stage-2's worker can decide whether to abort
// or press on without string-matching error messages.
package migerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error per spec.md §7.
type Kind int

const (
	Invalid Kind = iota
	NotFound
	Upstream
	IO
	Execution
	InvalidState
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case NotFound:
		return "NotFound"
	case Upstream:
		return "Upstream"
	case IO:
		return "IO"
	case Execution:
		return "Execution"
	case InvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind, preserving the stack
// trace pkg/errors attaches so a Stage-1 abort can be logged with full
// context.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the classification of err, or InvalidState if err was
// never wrapped by this package (a programming error: every boundary
// must classify what it returns).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return InvalidState
}

// Is reports whether err (or anything it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func New(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, cause: pkgerrors.Errorf(format, args...)}
}

func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, cause: pkgerrors.Wrap(cause, msg)}
}

func Wrapf(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, cause: pkgerrors.Wrapf(cause, format, args...)}
}
