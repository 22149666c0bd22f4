// Package verr defines the verifier's error-kind taxonomy (spec.md §7).
// Every rejection the core raises carries a Kind, mapping it to a distinct
// conceptual errno, and the instruction index where it was detected.
package verr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error-kind taxonomy spec.md §7 enumerates.
type Kind uint8

const (
	// KindStructural: malformed jump target, unreachable instruction,
	// reserved field set, oversized program, too-deep call stack,
	// too-many-states.
	KindStructural Kind = iota
	// KindType: register type not in permitted set, misaligned access,
	// out-of-bounds offset, writing pointer into non-leak-allowed memory,
	// spill without 8-byte alignment.
	KindType
	// KindResource: unreleased reference, releasing a non-acquired
	// reference, double lock, unlock of a different lock, nested RCU,
	// holding lock across a disallowed call.
	KindResource
	// KindArithmetic: division by zero constant, shift >= bitwidth,
	// pointer arithmetic with unsupported operator, pointer +/- pointer in
	// restricted mode.
	KindArithmetic
	// KindComplexity: instruction limit, jump-sequence limit, backtracking
	// unable to locate a constant.
	KindComplexity
	// KindInternal: an assertion violated inside the verifier itself —
	// always a bug, never the caller's program, and always surfaced with
	// a distinct kind so callers can tell the two apart.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindType:
		return "type"
	case KindResource:
		return "resource"
	case KindArithmetic:
		return "arithmetic"
	case KindComplexity:
		return "complexity"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type every core rejection is wrapped in. InsnIdx is
// -1 when the error was not tied to a specific instruction (e.g. a
// whole-program complexity limit detected only at the end of a pass).
type Error struct {
	Kind    Kind
	InsnIdx int
	cause   error
}

func (e *Error) Error() string {
	if e.InsnIdx < 0 {
		return fmt.Sprintf("[%s] %s", e.Kind, e.cause)
	}
	return fmt.Sprintf("insn %d: [%s] %s", e.InsnIdx, e.Kind, e.cause)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind at insnIdx, formatting msg like
// fmt.Errorf and recording a stack trace via github.com/pkg/errors in the
// wrapped cause; internal/vlog does not print that trace.
func New(kind Kind, insnIdx int, format string, args ...any) *Error {
	return &Error{Kind: kind, InsnIdx: insnIdx, cause: errors.Errorf(format, args...)}
}

// Wrap attaches kind/insnIdx to an existing error, preserving it as the
// cause so errors.Is still sees through to it.
func Wrap(kind Kind, insnIdx int, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, InsnIdx: insnIdx, cause: errors.WithStack(err)}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// through any wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
