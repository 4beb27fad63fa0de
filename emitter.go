// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type loopFrame struct {
	start    int
	repeat   uint32
	acc      float64
	infinite bool
}

// Emitter appends instructions to an append-only stream and keeps track of
// open loops so that the total program duration is known once the stream is
// finalized.
type Emitter struct {
	limits HardwareLimits
	log    *zap.Logger

	stream    []Instruction
	frames    []loopFrame
	finalized bool
	total     float64
}

// NewEmitter creates an emitter for the given hardware.
func NewEmitter(limits HardwareLimits, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{
		limits: limits,
		log:    log,
		frames: []loopFrame{{start: -1, repeat: 1}},
	}
}

// Emit appends an instruction and returns its index. A CONTINUE of zero
// duration is dropped and the index of the previous instruction is returned.
func (e *Emitter) Emit(flags Bitmask, op Opcode, operand uint32, duration float64) (int, error) {
	if e.finalized {
		return -1, errors.New("emit after finalize")
	}
	idx := len(e.stream)
	if !op.Valid() {
		return -1, errors.Errorf("unsupported opcode %d", uint8(op))
	}
	if math.IsNaN(duration) || duration < 0 {
		return -1, newError(ErrDurationTooShort, idx, "invalid duration %g ns", duration)
	}
	if duration == 0 && op == Continue {
		return idx - 1, nil
	}
	if duration < e.limits.MinInstructionNs && !op.Framing() {
		return -1, newError(ErrDurationTooShort, idx,
			"%s of %g ns is shorter than %g ns", op, duration, e.limits.MinInstructionNs)
	}

	top := &e.frames[len(e.frames)-1]
	switch op {
	case Continue:
		top.acc += duration
	case Loop:
		if operand == 0 || operand > e.limits.MaxLoopRepeat {
			return -1, newError(ErrRepeatCountOverflow, idx,
				"loop count %d outside 1..%d", operand, e.limits.MaxLoopRepeat)
		}
		e.frames = append(e.frames, loopFrame{start: idx, repeat: operand, acc: duration})
	case EndLoop:
		if len(e.frames) == 1 {
			return -1, newError(ErrLoopMismatch, idx, "END_LOOP without an open LOOP")
		}
		if int(operand) != top.start {
			return -1, newError(ErrLoopMismatch, idx,
				"END_LOOP closes %d but the open LOOP is %d", operand, top.start)
		}
		done := *top
		done.acc += duration
		e.frames = e.frames[:len(e.frames)-1]
		parent := &e.frames[len(e.frames)-1]
		if done.infinite {
			parent.infinite = true
		} else if !parent.infinite {
			parent.acc += done.acc * float64(done.repeat)
		}
	case Branch:
		if int(operand) >= idx {
			return -1, newError(ErrBranchTarget, idx,
				"branch to %d, only %d instructions emitted", operand, idx)
		}
		top.acc += duration
		top.infinite = true
	case Stop:
		top.acc += duration
		top.infinite = true
	}

	e.stream = append(e.stream, Instruction{
		Flags:    flags,
		Opcode:   op,
		Operand:  operand,
		Duration: duration,
	})
	e.log.Debug("emit",
		zap.Int("index", idx),
		zap.Stringer("opcode", op),
		zap.Uint32("operand", operand),
		zap.Stringer("flags", flags),
		zap.Float64("duration_ns", duration),
		zap.Int("depth", len(e.frames)-1),
	)
	return idx, nil
}

// Len returns the number of emitted instructions.
func (e *Emitter) Len() int { return len(e.stream) }

// Depth returns the number of open loops.
func (e *Emitter) Depth() int { return len(e.frames) - 1 }

// Last returns the last emitted instruction.
func (e *Emitter) Last() (Instruction, bool) {
	if len(e.stream) == 0 {
		return Instruction{}, false
	}
	return e.stream[len(e.stream)-1], true
}

// Instructions returns a copy of the stream.
func (e *Emitter) Instructions() []Instruction {
	out := make([]Instruction, len(e.stream))
	copy(out, e.stream)
	return out
}

// Finalize closes the stream. It fails if any LOOP is still open. The returned
// flag reports whether the stream ends in STOP or BRANCH rather than falling
// off its end.
func (e *Emitter) Finalize() (bool, error) {
	if depth := e.Depth(); depth > 0 {
		open := e.frames[len(e.frames)-1].start
		return false, newError(ErrUnterminatedLoop, open, "%d loop(s) still open", depth)
	}
	e.finalized = true
	e.total = e.frames[0].acc

	last, ok := e.Last()
	terminated := ok && (last.Opcode == Stop || last.Opcode == Branch)
	if !terminated {
		e.log.Warn("instruction stream falls through its end", zap.Int("instructions", len(e.stream)))
	}
	return terminated, nil
}

// TotalDuration returns the duration in ns of one pass through the program,
// counting every loop iteration. It is only valid after Finalize.
func (e *Emitter) TotalDuration() (float64, bool) {
	return e.total, e.finalized
}
