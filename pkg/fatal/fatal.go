// Copyright 2025 The Ozmem Authors.
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

// Package fatal defines the outcome type for unrecoverable invariant
// violations detected by the memory subsystem.
//
// Nothing in this tree recovers from a Violation. Components return it as an
// ordinary error so that tests can observe the violated invariant; the real
// boot entry point (boot.Run) applies the single halt-on-violation policy.
package fatal

import (
	"errors"
	"fmt"
)

// Causes of violations. These classify the invariant that was broken; they
// are matched with errors.Is.
var (
	// ErrMisaligned indicates an address or length that is not page-aligned
	// where alignment is required.
	ErrMisaligned = errors.New("misaligned address or length")

	// ErrOverflow indicates that base+length wraps the address width.
	ErrOverflow = errors.New("address range overflows")

	// ErrOutOfRange indicates a span that is not contained in its parent.
	ErrOutOfRange = errors.New("span outside parent region")

	// ErrOverlap indicates a span that intersects an existing sibling.
	ErrOverlap = errors.New("span overlaps existing region")

	// ErrBadState indicates an object in the wrong state for the requested
	// transition, e.g. claiming a page frame that is not free.
	ErrBadState = errors.New("object in unexpected state")

	// ErrOversized indicates a caller-supplied size above the per-call
	// maximum. All callers are trusted kernel code, so this is a bug.
	ErrOversized = errors.New("request exceeds per-call maximum")

	// ErrExhausted indicates that no free physical frames remain.
	ErrExhausted = errors.New("out of physical memory")

	// ErrNonceExhausted indicates that the entropy pool's nonce counter
	// reached the reserved overflow range. Reusing a nonce under a fixed key
	// breaks the keystream guarantee, so this is never recoverable.
	ErrNonceExhausted = errors.New("entropy nonce space exhausted")
)

// Violation is an unrecoverable invariant violation. Op names the operation
// that detected it.
type Violation struct {
	Op  string
	Err error
}

// Error implements error.Error.
func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %v", v.Op, v.Err)
}

// Unwrap supports errors.Is/errors.As on the underlying cause.
func (v *Violation) Unwrap() error {
	return v.Err
}

// New returns a Violation wrapping cause, annotated with op.
func New(op string, cause error) *Violation {
	return &Violation{Op: op, Err: cause}
}

// Newf returns a Violation whose cause is sentinel, with additional detail
// formatted into the message.
func Newf(op string, sentinel error, format string, args ...any) *Violation {
	return &Violation{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// Is returns true if err is (or wraps) a Violation.
func Is(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}
