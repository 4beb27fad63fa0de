// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReadoutStrategy selects how the counters are gated.
type ReadoutStrategy int

// Available readout strategies.
const (
	// Gated holds the counter line high for the whole gate window.
	Gated ReadoutStrategy = iota
	// SampleClocked ticks the counter line at the start and the end of the
	// window.
	SampleClocked
)

var strategyDesc = map[ReadoutStrategy]string{
	Gated:         "gated",
	SampleClocked: "clocked",
}

func (s ReadoutStrategy) String() string {
	if d, ok := strategyDesc[s]; ok {
		return d
	}
	return "unknown"
}

// ParseStrategy returns the strategy named by s.
func ParseStrategy(s string) (ReadoutStrategy, error) {
	for k, v := range strategyDesc {
		if v == s {
			return k, nil
		}
	}
	return Gated, errors.Errorf("unknown readout strategy %q", s)
}

// ReadoutParams are the timings of the readout template in ns.
type ReadoutParams struct {
	InitIllumination float64
	AOMDelay         float64
	MinDark          float64
	GateWindow       float64
	GateSeparation   float64
	Gates            int
	Repolarize       float64
	Cleanup          float64
	TriggerWidth     float64
	InnerLoopSize    uint32
}

// DefaultReadoutParams returns the timings of the reference setup.
func DefaultReadoutParams() ReadoutParams {
	return ReadoutParams{
		InitIllumination: 3000,
		AOMDelay:         500,
		MinDark:          1000,
		GateWindow:       300,
		GateSeparation:   1500,
		Gates:            2,
		Repolarize:       2000,
		Cleanup:          1000,
		TriggerWidth:     10,
		InnerLoopSize:    10000,
	}
}

// Validate rejects non-positive windows and inner loops shorter than 2.
func (r ReadoutParams) Validate() error {
	windows := []struct {
		name string
		v    float64
	}{
		{"initIllumination", r.InitIllumination},
		{"aomDelay", r.AOMDelay},
		{"minDark", r.MinDark},
		{"gateWindow", r.GateWindow},
		{"gateSeparation", r.GateSeparation},
		{"repolarize", r.Repolarize},
		{"cleanup", r.Cleanup},
		{"triggerWidth", r.TriggerWidth},
	}
	for _, w := range windows {
		if !(w.v > 0) {
			return errors.Errorf("readout: %s must be positive, got %g", w.name, w.v)
		}
	}
	if r.Gates < 1 {
		return errors.Errorf("readout: need at least one gate, got %d", r.Gates)
	}
	if r.MinDark < r.TriggerWidth {
		return errors.Errorf("readout: minDark %g shorter than triggerWidth %g", r.MinDark, r.TriggerWidth)
	}
	if r.InnerLoopSize < 2 {
		return errors.Errorf("readout: innerLoopSize must be at least 2, got %d", r.InnerLoopSize)
	}
	return nil
}

// ReadoutRequest is one sweep to compile. Every point is played once per
// repetition, twice when Inverted is set.
type ReadoutRequest struct {
	// Name labels the request in logs and metrics.
	Name       string
	Program    PulseProgram
	Points     []Params
	Reps       uint64
	Inverted   bool
	Continuous bool
}

type readoutState int

const (
	stateInit readoutState = iota
	stateIlluminate
	stateOuterLoop
	stateDark
	stateUserProgram
	stateGateWindow
	stateCleanup
	stateStop
)

var stateDesc = [...]string{"INIT", "ILLUMINATE", "OUTER_LOOP", "DARK", "USER_PROGRAM", "GATE_WINDOW", "CLEANUP", "STOP"}

func (s readoutState) String() string { return stateDesc[s] }

// loopPlan is the split of a repetition count over the two loop levels.
type loopPlan struct {
	outer, inner, remainder uint32
}

func planLoops(reps uint64, innerSize, maxRepeat uint32) (loopPlan, error) {
	if reps == 0 {
		return loopPlan{}, newError(ErrRepeatCountOverflow, -1, "zero repetitions")
	}
	if reps <= uint64(innerSize) {
		if reps > uint64(maxRepeat) {
			return loopPlan{}, newError(ErrRepeatCountOverflow, -1, "%d repetitions exceed %d", reps, maxRepeat)
		}
		return loopPlan{outer: 1, inner: uint32(reps)}, nil
	}
	if innerSize > maxRepeat {
		return loopPlan{}, newError(ErrRepeatCountOverflow, -1, "inner loop size %d exceeds %d", innerSize, maxRepeat)
	}
	outer := reps / uint64(innerSize)
	if outer > uint64(maxRepeat) {
		return loopPlan{}, newError(ErrRepeatCountOverflow, -1,
			"%d repetitions need %d outer iterations, max %d", reps, outer, maxRepeat)
	}
	return loopPlan{
		outer:     uint32(outer),
		inner:     innerSize,
		remainder: uint32(reps % uint64(innerSize)),
	}, nil
}

// nested reports whether the plan needs the two-level loop.
func (p loopPlan) nested() bool { return p.outer > 1 || p.remainder > 0 }

// shapeRecorder forwards to a Sequencer and checks that every invocation of
// the user program issues the same sequence of calls.
type shapeRecorder struct {
	seq   Sequencer
	want  []Opcode
	got   []Opcode
	fixed bool
}

func (s *shapeRecorder) note() { s.got = append(s.got, Continue) }

func (s *shapeRecorder) Pulse(duration float64, flags ...string) error {
	s.note()
	return s.seq.Pulse(duration, flags...)
}

func (s *shapeRecorder) Analog(values map[ChannelID]IQ, duration float64, flags ...string) error {
	s.note()
	return s.seq.Analog(values, duration, flags...)
}

func (s *shapeRecorder) Wait(duration float64) error {
	s.note()
	return s.seq.Wait(duration)
}

func (s *shapeRecorder) run(fn PulseProgram, p Params) error {
	s.got = s.got[:0]
	if err := fn(s, p); err != nil {
		return err
	}
	if !s.fixed {
		s.want = append([]Opcode(nil), s.got...)
		s.fixed = true
		return nil
	}
	if len(s.got) != len(s.want) {
		return newError(ErrShapeMismatch, -1, "program issued %d instructions, first call issued %d", len(s.got), len(s.want))
	}
	for i := range s.got {
		if s.got[i] != s.want[i] {
			return newError(ErrShapeMismatch, -1, "instruction %d is %s, first call had %s", i, s.got[i], s.want[i])
		}
	}
	return nil
}

// expander walks the readout template state machine for one request.
type expander struct {
	ctx      *CompilerContext
	params   ReadoutParams
	strategy ReadoutStrategy
	log      *zap.Logger

	req      ReadoutRequest
	variants int
	shape    shapeRecorder
	recorded map[int]bool
	state    readoutState
}

func newExpander(ctx *CompilerContext, params ReadoutParams, strategy ReadoutStrategy, log *zap.Logger) *expander {
	return &expander{
		ctx:      ctx,
		params:   params,
		strategy: strategy,
		log:      log,
		shape:    shapeRecorder{seq: ctx},
		recorded: make(map[int]bool),
	}
}

func (x *expander) enter(s readoutState, fields ...zap.Field) {
	x.state = s
	x.log.Debug("readout", append([]zap.Field{zap.Stringer("state", s)}, fields...)...)
}

func (x *expander) expand(req ReadoutRequest) error {
	x.enter(stateInit, zap.String("program", req.Name), zap.Uint64("reps", req.Reps))
	if req.Program == nil {
		return newError(ErrUnknownProgram, -1, "no pulse program in request %q", req.Name)
	}
	if len(req.Points) == 0 {
		req.Points = []Params{{}}
	}
	x.req = req
	x.variants = 1
	if req.Inverted {
		x.variants = 2
	}

	limits := x.ctx.Limits()
	plan, err := planLoops(req.Reps, x.params.InnerLoopSize, limits.MaxLoopRepeat)
	if err != nil {
		return err
	}

	x.enter(stateIlluminate)
	if err := x.ctx.Pulse(x.params.InitIllumination, FlagAOM); err != nil {
		return err
	}

	x.enter(stateOuterLoop,
		zap.Uint32("outer", plan.outer),
		zap.Uint32("inner", plan.inner),
		zap.Uint32("remainder", plan.remainder),
	)
	var head int
	if plan.nested() {
		head, err = x.loop(plan.outer, func() error {
			_, err := x.loop(plan.inner, x.body)
			return err
		})
	} else {
		head, err = x.loop(plan.inner, x.body)
	}
	if err != nil {
		return err
	}
	if plan.remainder > 0 {
		if _, err := x.loop(plan.remainder, x.body); err != nil {
			return err
		}
	}

	if req.Continuous {
		_, err := x.ctx.Control(Branch, uint32(head), limits.MinInstructionNs)
		return err
	}
	x.enter(stateCleanup)
	if err := x.ctx.Pulse(x.params.Cleanup, FlagAOM); err != nil {
		return err
	}
	x.enter(stateStop)
	_, err = x.ctx.Control(Stop, 0, limits.MinInstructionNs)
	return err
}

// loop wraps inner in LOOP(count) ... END_LOOP and returns the LOOP index.
func (x *expander) loop(count uint32, inner func() error) (int, error) {
	width := x.ctx.Limits().MinInstructionNs
	start, err := x.ctx.Control(Loop, count, width)
	if err != nil {
		return -1, err
	}
	if err := inner(); err != nil {
		return -1, err
	}
	if _, err := x.ctx.Control(EndLoop, uint32(start), width); err != nil {
		return -1, err
	}
	return start, nil
}

// body emits one repetition of every point and variant.
func (x *expander) body() error {
	for point, p := range x.req.Points {
		for variant := 0; variant < x.variants; variant++ {
			if err := x.pass(point, variant, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *expander) pass(point, variant int, p Params) error {
	id := point*x.variants + variant
	record := x.ctx.AWGEnabled() && !x.recorded[id]

	x.enter(stateDark, zap.Int("point", point), zap.Int("variant", variant))
	lead := x.ctx.TriggerLead(x.params.TriggerWidth)
	if err := x.ctx.Wait(x.params.MinDark - lead); err != nil {
		return err
	}
	if err := x.ctx.StartPass(id, x.params.TriggerWidth, record); err != nil {
		return err
	}
	if record {
		x.recorded[id] = true
	}

	x.enter(stateUserProgram, zap.Int("pass", id))
	if err := x.shape.run(x.req.Program, p.With(Params{ParamVariant: float64(variant)})); err != nil {
		return err
	}
	if err := x.ctx.EndPass(); err != nil {
		return err
	}

	x.enter(stateGateWindow, zap.Int("gates", x.params.Gates))
	return x.gates(CounterFlag(variant))
}

func (x *expander) gates(counter string) error {
	if err := x.ctx.Pulse(x.params.AOMDelay, FlagAOM); err != nil {
		return err
	}
	for g := 0; g < x.params.Gates; g++ {
		if g > 0 {
			if err := x.ctx.Pulse(x.params.GateSeparation, FlagAOM); err != nil {
				return err
			}
		}
		if err := x.gate(counter); err != nil {
			return err
		}
	}
	return x.ctx.Pulse(x.params.Repolarize, FlagAOM)
}

func (x *expander) gate(counter string) error {
	switch x.strategy {
	case SampleClocked:
		tick := x.params.TriggerWidth
		if err := x.ctx.Pulse(tick, FlagAOM, counter); err != nil {
			return err
		}
		if err := x.ctx.Pulse(x.params.GateWindow-tick, FlagAOM); err != nil {
			return err
		}
		return x.ctx.Pulse(tick, FlagAOM, counter)
	default:
		return x.ctx.Pulse(x.params.GateWindow, FlagAOM, counter)
	}
}
