// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import "fmt"

// Opcode is a sequencer instruction opcode. The values are the ones used in
// the sequencer's instruction word.
type Opcode uint8

// Available opcodes.
const (
	Continue Opcode = 0
	Stop     Opcode = 1
	Loop     Opcode = 2
	EndLoop  Opcode = 3
	Branch   Opcode = 6
)

var opcodeDesc = map[Opcode]string{
	Continue: "CONTINUE",
	Stop:     "STOP",
	Loop:     "LOOP",
	EndLoop:  "END_LOOP",
	Branch:   "BRANCH",
}

func (op Opcode) String() string {
	if s, ok := opcodeDesc[op]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// Valid reports whether op is one of the supported opcodes.
func (op Opcode) Valid() bool {
	_, ok := opcodeDesc[op]
	return ok
}

// Framing reports whether op only opens or closes a loop. Framing
// instructions are exempt from the minimum instruction width.
func (op Opcode) Framing() bool {
	return op == Loop || op == EndLoop
}

// Instruction is one entry of the sequencer instruction stream. Duration is in
// nanoseconds. Operand is the repeat count of a LOOP, the LOOP index closed by
// an END_LOOP and the target index of a BRANCH.
type Instruction struct {
	Flags    Bitmask
	Opcode   Opcode
	Operand  uint32
	Duration float64
}

func (ins Instruction) String() string {
	switch ins.Opcode {
	case Loop, EndLoop, Branch:
		return fmt.Sprintf("%s %s(%d) %gns", ins.Flags, ins.Opcode, ins.Operand, ins.Duration)
	default:
		return fmt.Sprintf("%s %s %gns", ins.Flags, ins.Opcode, ins.Duration)
	}
}

// HardwareLimits describes the sequencer.
type HardwareLimits struct {
	// ClockMHz is the sequencer core clock.
	ClockMHz float64
	// MinInstructionNs is the shortest instruction the sequencer can play.
	MinInstructionNs float64
	// MaxLoopRepeat is the largest LOOP operand.
	MaxLoopRepeat uint32
	// DelayOffset is the number of clock cycles the sequencer adds to every
	// instruction.
	DelayOffset uint32
}

// DefaultHardwareLimits returns the limits of the reference sequencer.
func DefaultHardwareLimits() HardwareLimits {
	return HardwareLimits{
		ClockMHz:         500,
		MinInstructionNs: 10,
		MaxLoopRepeat:    1<<20 - 1,
		DelayOffset:      3,
	}
}
