// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// WordSize is the size in bytes of one encoded instruction.
const WordSize = 10

const (
	operandBits = 20
	operandMask = 1<<operandBits - 1
	flagsMask   = 1<<BitmaskWidth - 1
)

// DelayCount returns the sequencer delay field for a duration in ns.
func (l HardwareLimits) DelayCount(duration float64) (uint32, error) {
	cycles := math.Round(duration*l.ClockMHz/1000) - float64(l.DelayOffset)
	if cycles <= 0 {
		return 0, newError(ErrDurationTooShort, -1, "%g ns is %g clock cycles after latency", duration, cycles)
	}
	if cycles > math.MaxUint32 {
		return 0, newError(ErrDurationTooLong, -1, "%g ns does not fit the delay counter", duration)
	}
	return uint32(cycles), nil
}

// Quantize rounds a duration in ns to a whole number of clock cycles, the
// resolution of the delay counter.
func (l HardwareLimits) Quantize(duration float64) float64 {
	if !(l.ClockMHz > 0) {
		return duration
	}
	return math.Round(duration*l.ClockMHz/1000) * 1000 / l.ClockMHz
}

// QuantizeUp rounds a duration in ns up to a whole number of clock cycles.
func (l HardwareLimits) QuantizeUp(duration float64) float64 {
	if !(l.ClockMHz > 0) {
		return duration
	}
	cycles := duration * l.ClockMHz / 1000
	if r := math.Round(cycles); math.Abs(cycles-r) < 1e-9 {
		return r * 1000 / l.ClockMHz
	}
	return math.Ceil(cycles) * 1000 / l.ClockMHz
}

// HardwareWidth is the width the sequencer executes for ins. LOOP and
// END_LOOP framing may be shorter than MinInstructionNs in the stream, the
// device still spends the minimum width on them.
func (l HardwareLimits) HardwareWidth(ins Instruction) float64 {
	if ins.Opcode.Framing() && ins.Duration < l.MinInstructionNs {
		return l.MinInstructionNs
	}
	return ins.Duration
}

// Duration is the inverse of DelayCount.
func (l HardwareLimits) Duration(count uint32) float64 {
	return float64(uint64(count)+uint64(l.DelayOffset)) * 1000 / l.ClockMHz
}

// EncodeInstruction packs ins into a little-endian 80 bit word.
//
//	bits  0-23  flags
//	bits 24-43  operand
//	bits 44-47  opcode
//	bits 48-79  delay count
func EncodeInstruction(dst []byte, ins Instruction, limits HardwareLimits) error {
	if len(dst) < WordSize {
		return errors.Errorf("encode: buffer of %d bytes, need %d", len(dst), WordSize)
	}
	if uint32(ins.Flags)&^flagsMask != 0 {
		return newError(ErrUnknownFlag, -1, "flags %s use lines above %d", ins.Flags, BitmaskWidth)
	}
	if ins.Operand > operandMask {
		return newError(ErrRepeatCountOverflow, -1, "operand %d exceeds %d bits", ins.Operand, operandBits)
	}
	if !ins.Opcode.Valid() {
		return errors.Errorf("encode: unsupported opcode %d", uint8(ins.Opcode))
	}
	delay, err := limits.DelayCount(limits.HardwareWidth(ins))
	if err != nil {
		return err
	}
	lo := uint64(ins.Flags) |
		uint64(ins.Operand)<<24 |
		uint64(ins.Opcode)<<44 |
		uint64(delay&0xffff)<<48
	binary.LittleEndian.PutUint64(dst[0:8], lo)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(delay>>16))
	return nil
}

// DecodeInstruction unpacks one word written by EncodeInstruction.
func DecodeInstruction(src []byte, limits HardwareLimits) (Instruction, error) {
	if len(src) < WordSize {
		return Instruction{}, errors.Errorf("decode: %d bytes, need %d", len(src), WordSize)
	}
	lo := binary.LittleEndian.Uint64(src[0:8])
	hi := binary.LittleEndian.Uint16(src[8:10])
	ins := Instruction{
		Flags:   Bitmask(lo & flagsMask),
		Operand: uint32(lo>>24) & operandMask,
		Opcode:  Opcode(lo>>44) & 0xf,
	}
	if !ins.Opcode.Valid() {
		return Instruction{}, errors.Errorf("decode: unsupported opcode %d", uint8(ins.Opcode))
	}
	delay := uint32(lo>>48) | uint32(hi)<<16
	ins.Duration = limits.Duration(delay)
	return ins, nil
}

// EncodeProgram encodes every instruction of a stream. The index of a failing
// instruction is reported in the error.
func EncodeProgram(stream []Instruction, limits HardwareLimits) ([]byte, error) {
	out := make([]byte, len(stream)*WordSize)
	for i, ins := range stream {
		if err := EncodeInstruction(out[i*WordSize:], ins, limits); err != nil {
			var ce *CompileError
			if errors.As(err, &ce) {
				ce.Index = i
			}
			return nil, err
		}
	}
	return out, nil
}

// DecodeProgram decodes a buffer written by EncodeProgram.
func DecodeProgram(buf []byte, limits HardwareLimits) ([]Instruction, error) {
	if len(buf)%WordSize != 0 {
		return nil, errors.Errorf("decode: %d bytes is not a multiple of %d", len(buf), WordSize)
	}
	out := make([]Instruction, 0, len(buf)/WordSize)
	for off := 0; off < len(buf); off += WordSize {
		ins, err := DecodeInstruction(buf[off:], limits)
		if err != nil {
			return nil, errors.Wrapf(err, "word %d", off/WordSize)
		}
		out = append(out, ins)
	}
	return out, nil
}
