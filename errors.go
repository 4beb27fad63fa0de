// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds reported by the compiler. Use errors.Is to test for a kind; the
// concrete value is a *CompileError or a *DeadTimeError.
var (
	ErrDurationTooShort      = errors.New("duration too short")
	ErrDurationTooLong       = errors.New("duration too long")
	ErrUnterminatedLoop      = errors.New("unterminated loop")
	ErrLoopMismatch          = errors.New("loop mismatch")
	ErrBranchTarget          = errors.New("invalid branch target")
	ErrUnknownFlag           = errors.New("unknown flag")
	ErrUnknownChannel        = errors.New("unknown awg channel")
	ErrAmplitudeOutOfRange   = errors.New("amplitude out of range")
	ErrPulseDeadTimeTooShort = errors.New("pulse dead time too short")
	ErrInsufficientLeadIn    = errors.New("insufficient lead-in")
	ErrRepeatCountOverflow   = errors.New("repeat count overflow")
	ErrShapeMismatch         = errors.New("program shape mismatch")
	ErrMissingParam          = errors.New("missing parameter")
	ErrUnknownProgram        = errors.New("unknown pulse program")
	ErrNotTerminated         = errors.New("program not terminated")
	ErrAlreadyStopped        = errors.New("device already stopped")
)

// CompileError is a compiler failure of a given kind. Index is the
// instruction index the failure refers to, or -1.
type CompileError struct {
	Kind   error
	Index  int
	Detail string
}

func (e *CompileError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s at instruction %d: %s", e.Kind, e.Index, e.Detail)
}

// Unwrap returns the error kind.
func (e *CompileError) Unwrap() error { return e.Kind }

func newError(kind error, index int, format string, a ...any) error {
	return &CompileError{Kind: kind, Index: index, Detail: fmt.Sprintf(format, a...)}
}

// DeadTimeError reports an edge extension that ran into a different non-zero
// value. Gap and Required are in virtual samples (ns).
type DeadTimeError struct {
	Pass     int
	Channel  ChannelID
	Start    int
	Gap      int
	Required int
}

func (e *DeadTimeError) Error() string {
	return fmt.Sprintf("%s: pass %d channel %d gap of %d ns at sample %d, need %d ns",
		ErrPulseDeadTimeTooShort, e.Pass, e.Channel, e.Gap, e.Start, e.Required)
}

// Unwrap returns ErrPulseDeadTimeTooShort.
func (e *DeadTimeError) Unwrap() error { return ErrPulseDeadTimeTooShort }
