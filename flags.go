// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// BitmaskWidth is the number of digital output lines on the sequencer.
const BitmaskWidth = 24

// Bitmask holds the state of every sequencer output line.
type Bitmask uint32

func (b Bitmask) String() string {
	return fmt.Sprintf("0x%06x", uint32(b))
}

// FlagEncoder maps symbolic channel names to a sequencer bitmask.
// Implementations are immutable and safe for concurrent use.
type FlagEncoder interface {
	// Encode returns the bitmask for the given set of active symbols. The
	// order and repetition of symbols does not matter.
	Encode(symbols ...string) (Bitmask, error)
	// Decode returns the active symbols in bit order. It names lines, so
	// Decode(Encode(s)) gives back s only for symbols owning one line.
	// Aliases decode to their lines and zero-width symbols vanish.
	Decode(mask Bitmask) []string
}

// Built-in flag symbols.
const (
	FlagAOM          = "aom"
	FlagCounter0     = "ctr0"
	FlagCounter1     = "ctr1"
	FlagMW0          = "mw0"
	FlagMW1          = "mw1"
	FlagAWGTrigger   = "awg-trig"
	FlagCamera       = "camera"
	FlagSpectrometer = "spectrometer"
	FlagSampleClock  = "sample-clk"
	FlagLaserCW      = "laser-cw"
)

// ChannelFlag returns the digital "channel active" symbol paired with an AWG
// channel.
func ChannelFlag(ch ChannelID) string {
	return fmt.Sprintf("awg%d", ch)
}

// CounterFlag returns the counter gate symbol used for a readout variant.
func CounterFlag(variant int) string {
	return fmt.Sprintf("ctr%d", variant)
}

var builtinSingle = []string{
	FlagAOM,
	FlagCounter0,
	FlagCounter1,
	FlagMW0,
	FlagMW1,
	FlagAWGTrigger,
	"awg0",
	"awg1",
	FlagCamera,
	FlagSpectrometer,
	FlagSampleClock,
}

var builtinBits = func() map[string]Bitmask {
	m := make(map[string]Bitmask, len(builtinSingle)+4)
	for i, s := range builtinSingle {
		m[s] = 1 << uint(i)
	}
	m["ctr"] = m[FlagCounter0] | m[FlagCounter1]
	m["mw"] = m[FlagMW0] | m[FlagMW1]
	// Illumination sources without a sequencer line. They are legal so that
	// duration-only instructions can be written in terms of them.
	m[FlagLaserCW] = 0
	m["illumination"] = 0
	return m
}()

type builtinFlags struct{}

// BuiltinFlags returns the fixed bit assignment of the reference microscope.
func BuiltinFlags() FlagEncoder { return builtinFlags{} }

func (builtinFlags) Encode(symbols ...string) (Bitmask, error) {
	var mask Bitmask
	for _, s := range symbols {
		bits, ok := builtinBits[s]
		if !ok {
			return 0, newError(ErrUnknownFlag, -1, "%q is not a built-in flag", s)
		}
		mask |= bits
	}
	return mask, nil
}

// Decode never returns the ctr and mw aliases or the illumination symbols.
func (builtinFlags) Decode(mask Bitmask) []string {
	var out []string
	for i, s := range builtinSingle {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, s)
		}
	}
	return out
}

// FlagRow assigns a symbol to a sequencer line. Inverted lines are driven
// high when the symbol is inactive.
type FlagRow struct {
	Bit    uint8  `yaml:"bit"`
	Symbol string `yaml:"symbol"`
	Invert bool   `yaml:"invert"`
}

// FlagTable is a table-driven FlagEncoder. It fully replaces the built-in
// assignment and is never modified after construction.
type FlagTable struct {
	rows   []FlagRow
	bits   map[string]Bitmask
	invert Bitmask
}

// NewFlagTable validates rows and builds an encoder from them.
func NewFlagTable(rows []FlagRow) (*FlagTable, error) {
	t := &FlagTable{
		rows: make([]FlagRow, len(rows)),
		bits: make(map[string]Bitmask, len(rows)),
	}
	copy(t.rows, rows)
	sort.SliceStable(t.rows, func(i, j int) bool { return t.rows[i].Bit < t.rows[j].Bit })

	var used Bitmask
	for _, r := range t.rows {
		if r.Symbol == "" {
			return nil, errors.Errorf("flag table: empty symbol for bit %d", r.Bit)
		}
		if r.Bit >= BitmaskWidth {
			return nil, errors.Errorf("flag table: bit %d of %q exceeds %d lines", r.Bit, r.Symbol, BitmaskWidth)
		}
		bit := Bitmask(1) << r.Bit
		if used&bit != 0 {
			return nil, errors.Errorf("flag table: bit %d assigned twice", r.Bit)
		}
		if _, dup := t.bits[r.Symbol]; dup {
			return nil, errors.Errorf("flag table: symbol %q assigned twice", r.Symbol)
		}
		used |= bit
		t.bits[r.Symbol] = bit
		if r.Invert {
			t.invert |= bit
		}
	}
	return t, nil
}

// Encode sets bit i to (symbol_i active) XOR invert_i.
func (t *FlagTable) Encode(symbols ...string) (Bitmask, error) {
	var active Bitmask
	for _, s := range symbols {
		bit, ok := t.bits[s]
		if !ok {
			return 0, newError(ErrUnknownFlag, -1, "%q is not in the flag table", s)
		}
		active |= bit
	}
	return active ^ t.invert, nil
}

func (t *FlagTable) Decode(mask Bitmask) []string {
	active := mask ^ t.invert
	var out []string
	for _, r := range t.rows {
		if active&(1<<r.Bit) != 0 {
			out = append(out, r.Symbol)
		}
	}
	return out
}

// Rows returns a copy of the table in bit order.
func (t *FlagTable) Rows() []FlagRow {
	out := make([]FlagRow, len(t.rows))
	copy(out, t.rows)
	return out
}

// Symbols returns the table's symbols in bit order.
func (t *FlagTable) Symbols() []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Symbol
	}
	return out
}
