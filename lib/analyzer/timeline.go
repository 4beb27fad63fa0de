// Package analyzer executes compiled programs into flag edge timelines and
// drives logic analyzer captures to compare against the real outputs.
package analyzer

import (
	"sort"

	"github.com/gotmc/pulseseq"
	"github.com/pkg/errors"
)

// DefaultLimit bounds the number of executed instructions.
const DefaultLimit = 1 << 22

// Edge is a change of one symbol's state.
type Edge struct {
	Time   float64 // ns from the start of the program
	Symbol string
	Active bool
}

// Timeline executes the instruction stream of prog and returns every symbol
// transition. LOOP re-executes itself on every iteration and END_LOOP
// jumps back to it, BRANCH is taken once and STOP halts. Programs
// that need more than limit instructions fail. The last instruction's end is
// returned as the duration.
func Timeline(prog *pulseseq.CompiledProgram, enc pulseseq.FlagEncoder, limit int) ([]Edge, float64, error) {
	if prog == nil || len(prog.Instructions) == 0 {
		return nil, 0, errors.New("timeline: empty program")
	}
	if enc == nil {
		enc = pulseseq.BuiltinFlags()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	idle, err := enc.Encode()
	if err != nil {
		return nil, 0, errors.Wrap(err, "timeline")
	}

	stream := prog.Instructions
	remaining := make(map[int]uint32)
	active := make(map[string]bool)
	for _, s := range enc.Decode(idle) {
		active[s] = true
	}
	var (
		edges    []Edge
		now      float64
		branched bool
	)
	for pc, steps := 0, 0; ; steps++ {
		if steps >= limit {
			return nil, 0, errors.Errorf("timeline: more than %d instructions executed", limit)
		}
		if pc < 0 || pc >= len(stream) {
			return nil, 0, errors.Errorf("timeline: pc %d ran off the stream", pc)
		}
		ins := stream[pc]
		edges = transition(edges, active, enc.Decode(ins.Flags), now)
		now += ins.Duration

		switch ins.Opcode {
		case pulseseq.Continue:
			pc++
		case pulseseq.Loop:
			if _, ok := remaining[pc]; !ok {
				remaining[pc] = ins.Operand
			}
			pc++
		case pulseseq.EndLoop:
			start := int(ins.Operand)
			n, ok := remaining[start]
			if !ok {
				return nil, 0, errors.Errorf("timeline: end loop at %d without loop %d", pc, start)
			}
			if n > 1 {
				remaining[start] = n - 1
				pc = start
			} else {
				delete(remaining, start)
				pc++
			}
		case pulseseq.Branch:
			if branched {
				return edges, now, nil
			}
			branched = true
			pc = int(ins.Operand)
		case pulseseq.Stop:
			return edges, now, nil
		default:
			return nil, 0, errors.Errorf("timeline: invalid opcode %d at %d", ins.Opcode, pc)
		}
	}
}

// transition appends the edges between the current state and next, then
// updates active.
func transition(edges []Edge, active map[string]bool, next []string, now float64) []Edge {
	want := make(map[string]bool, len(next))
	for _, s := range next {
		want[s] = true
	}
	var changed []Edge
	for s := range active {
		if !want[s] {
			changed = append(changed, Edge{Time: now, Symbol: s})
			delete(active, s)
		}
	}
	for s := range want {
		if !active[s] {
			changed = append(changed, Edge{Time: now, Symbol: s, Active: true})
			active[s] = true
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Symbol < changed[j].Symbol })
	return append(edges, changed...)
}

// Filter returns the edges of one symbol.
func Filter(edges []Edge, symbol string) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out
}

// Lines returns the symbol toggled by each sequencer line, in bit order.
// Lines without a symbol are empty.
func Lines(enc pulseseq.FlagEncoder) []string {
	if enc == nil {
		enc = pulseseq.BuiltinFlags()
	}
	idle, err := enc.Encode()
	if err != nil {
		return nil
	}
	base := make(map[string]bool)
	for _, s := range enc.Decode(idle) {
		base[s] = true
	}
	out := make([]string, pulseseq.BitmaskWidth)
	for bit := range out {
		for _, s := range symmetricDiff(base, enc.Decode(idle^pulseseq.Bitmask(1)<<bit)) {
			out[bit] = s
		}
	}
	return out
}

func symmetricDiff(base map[string]bool, other []string) []string {
	var out []string
	seen := make(map[string]bool, len(other))
	for _, s := range other {
		seen[s] = true
		if !base[s] {
			out = append(out, s)
		}
	}
	for s := range base {
		if !seen[s] {
			out = append(out, s)
		}
	}
	return out
}
