// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drive(seq Sequencer, p Params) error {
	tau, err := p.Float("tau")
	if err != nil {
		return err
	}
	if err := seq.Wait(20); err != nil {
		return err
	}
	if err := seq.Analog(map[ChannelID]IQ{0: {I: 1}}, tau, FlagMW0); err != nil {
		return err
	}
	return seq.Wait(50)
}

func newTestCompiler(t *testing.T, opts ...CompilerOption) *Compiler {
	t.Helper()
	c, err := NewCompiler(opts...)
	require.NoError(t, err)
	return c
}

func opcodes(stream []Instruction) []Opcode {
	out := make([]Opcode, len(stream))
	for i, ins := range stream {
		out[i] = ins.Opcode
	}
	return out
}

func loopCounts(stream []Instruction) []uint32 {
	var out []uint32
	for _, ins := range stream {
		if ins.Opcode == Loop {
			out = append(out, ins.Operand)
		}
	}
	return out
}

func TestCompileSinglePoint(t *testing.T) {
	c := newTestCompiler(t)
	before := testutil.ToFloat64(compileTotal.WithLabelValues("drive", "ok"))
	prog, err := c.Compile(ReadoutRequest{
		Name:    "drive",
		Program: drive,
		Points:  []Params{{"tau": 100}},
		Reps:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(compileTotal.WithLabelValues("drive", "ok")))

	assert.Equal(t, []Opcode{
		Continue,                     // illuminate
		Loop,                         // reps
		Continue, Continue, Continue, // dark, trigger, trigger lead
		Continue, Continue, Continue, // user program
		Continue, Continue, Continue, Continue, Continue, // aom delay, gate, separation, gate, repolarize
		EndLoop,
		Continue, // cleanup
		Stop,
	}, opcodes(prog.Instructions))
	assert.True(t, prog.TerminatedCleanly)
	assert.False(t, prog.Continuous)

	body := 10.0 + 968 + 10 + 22 + 20 + 100 + 50 + 500 + 300 + 1500 + 300 + 2000 + 10
	assert.Equal(t, 3000+100*body+1000+10, prog.TotalDuration)
	assert.Equal(t, weightedDuration(prog.Instructions), prog.TotalDuration)

	assert.Equal(t, uint32(100), prog.Instructions[1].Operand)
	assert.Equal(t, Bitmask(1<<5), prog.Instructions[3].Flags, "trigger")
	assert.Equal(t, 32.0, prog.Instructions[3].Duration+prog.Instructions[4].Duration,
		"trigger and lead span the waveform head padding")
	assert.Zero(t, prog.Instructions[4].Flags)
	assert.Equal(t, 1000.0, prog.Instructions[2].Duration+32, "dark time is kept")
	assert.Equal(t, Bitmask(1<<3|1<<6), prog.Instructions[6].Flags, "mw0 with awg0")
	assert.Equal(t, Bitmask(1|1<<1), prog.Instructions[9].Flags, "aom with ctr0")
	assert.Equal(t, uint32(1), prog.Instructions[13].Operand)

	require.Len(t, prog.Waveforms, 2)
	assert.False(t, prog.Waveforms[0].DC)
	assert.True(t, prog.Waveforms[1].DC)
	assert.Equal(t, 0.5, prog.Waveforms[0].IRange.Max)
}

func TestCompileLoopSplit(t *testing.T) {
	c := newTestCompiler(t)
	prog, err := c.Compile(ReadoutRequest{
		Program: drive,
		Points:  []Params{{"tau": 40}},
		Reps:    25000,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 10000, 5000}, loopCounts(prog.Instructions))
	assert.Equal(t, weightedDuration(prog.Instructions), prog.TotalDuration)
	assert.Len(t, prog.Waveforms, 2, "tail loop must not record again")
}

func TestPlanLoopsExact(t *testing.T) {
	for _, inner := range []uint32{2, 7, 10000} {
		for _, reps := range []uint64{1, 2, 6, 7, 8, 9999, 10000, 10001, 123457, 1<<21 - 1} {
			plan, err := planLoops(reps, inner, 1<<20-1)
			require.NoError(t, err)
			if plan.nested() {
				assert.Equal(t, reps, uint64(plan.outer)*uint64(plan.inner)+uint64(plan.remainder),
					"reps %d inner %d", reps, inner)
			} else {
				assert.Equal(t, reps, uint64(plan.inner))
			}
		}
	}
}

func TestCompileRepeatOverflow(t *testing.T) {
	c := newTestCompiler(t)
	for _, reps := range []uint64{0, 10000 * (1 << 20)} {
		prog, err := c.Compile(ReadoutRequest{Program: drive, Points: []Params{{"tau": 40}}, Reps: reps})
		assert.ErrorIs(t, err, ErrRepeatCountOverflow, "reps %d", reps)
		assert.Nil(t, prog)
	}
}

func TestCompileInverted(t *testing.T) {
	c := newTestCompiler(t)
	prog, err := c.Compile(ReadoutRequest{
		Program:  drive,
		Points:   []Params{{"tau": 40}, {"tau": 80}},
		Reps:     10,
		Inverted: true,
	})
	require.NoError(t, err)
	require.Len(t, prog.Waveforms, 8)
	var passes []int
	for _, w := range prog.Waveforms {
		passes = append(passes, w.Pass)
	}
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3}, passes)

	var ctr0, ctr1 int
	for _, ins := range prog.Instructions {
		switch ins.Flags {
		case 1 | 1<<1:
			ctr0++
		case 1 | 1<<2:
			ctr1++
		}
	}
	assert.Equal(t, 4, ctr0)
	assert.Equal(t, 4, ctr1)
}

func TestCompileShapeMismatch(t *testing.T) {
	c := newTestCompiler(t)
	unstable := func(seq Sequencer, p Params) error {
		if err := drive(seq, p); err != nil {
			return err
		}
		if v, _ := p.Bool(ParamVariant); v {
			return seq.Wait(20)
		}
		return nil
	}
	prog, err := c.Compile(ReadoutRequest{
		Program:  unstable,
		Points:   []Params{{"tau": 40}},
		Reps:     4,
		Inverted: true,
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Nil(t, prog)
}

func TestCompileContinuous(t *testing.T) {
	c := newTestCompiler(t)
	prog, err := c.Compile(ReadoutRequest{
		Program:    drive,
		Points:     []Params{{"tau": 40}},
		Reps:       20001,
		Continuous: true,
	})
	require.NoError(t, err)
	last := prog.Instructions[len(prog.Instructions)-1]
	assert.Equal(t, Branch, last.Opcode)
	assert.Equal(t, uint32(1), last.Operand)
	assert.Equal(t, Loop, prog.Instructions[1].Opcode)
	assert.True(t, prog.TerminatedCleanly)
	assert.True(t, prog.Continuous)
}

func TestCompileClockedGates(t *testing.T) {
	c := newTestCompiler(t, WithStrategy(SampleClocked))
	prog, err := c.Compile(ReadoutRequest{Program: drive, Points: []Params{{"tau": 40}}, Reps: 3})
	require.NoError(t, err)
	var ticks int
	for _, ins := range prog.Instructions {
		if ins.Flags == 1|1<<1 {
			assert.Equal(t, 10.0, ins.Duration)
			ticks++
		}
	}
	assert.Equal(t, 4, ticks)
}

func TestCompileWithoutAWG(t *testing.T) {
	c := newTestCompiler(t, WithAWG(AWGConfig{}))
	digital := func(seq Sequencer, p Params) error { return seq.Pulse(40, FlagMW0) }
	prog, err := c.Compile(ReadoutRequest{Program: digital, Reps: 3})
	require.NoError(t, err)
	assert.Empty(t, prog.Waveforms)
	for _, ins := range prog.Instructions {
		assert.Zero(t, ins.Flags&(1<<5), "no trigger without an AWG")
	}
}

func TestCompileErrorKindPreserved(t *testing.T) {
	c := newTestCompiler(t)
	short := func(seq Sequencer, p Params) error { return seq.Pulse(5, FlagMW0) }
	prog, err := c.Compile(ReadoutRequest{Program: short, Reps: 1})
	require.Error(t, err)
	assert.Nil(t, prog)
	_, direct := err.(*CompileError)
	assert.True(t, direct, "error must not be re-wrapped: %v", err)
	assert.ErrorIs(t, err, ErrDurationTooShort)

	_, err = c.Compile(ReadoutRequest{Program: drive, Points: []Params{{}}, Reps: 1})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestCompileTriggerLead(t *testing.T) {
	awg := DefaultAWGConfig()
	awg.ExtraPreDelayNs = 17
	c := newTestCompiler(t, WithAWG(awg))
	prog, err := c.Compile(ReadoutRequest{Program: drive, Points: []Params{{"tau": 40}}, Reps: 2})
	require.NoError(t, err)
	// 32 + 17 ns of padding rounded up to the 2 ns clock
	assert.Equal(t, 40.0, prog.Instructions[4].Duration)
	assert.Equal(t, 1000.0-50, prog.Instructions[2].Duration)

	var wf Waveform
	for _, w := range prog.Waveforms {
		if w.Pass == 0 && w.Channel == 0 {
			wf = w
		}
	}
	k := -1
	for n, v := range wf.I {
		if v != 0 {
			k = n
			break
		}
	}
	trigger := 0.0
	for _, ins := range prog.Instructions[3:6] {
		trigger += ins.Duration
	}
	assert.Equal(t, trigger, float64(k)*1e9/wf.SampleRate,
		"analog onset after the trigger matches the instruction stream")

	short := DefaultReadoutParams()
	short.MinDark = 40
	_, err = NewCompiler(WithReadout(short))
	assert.Error(t, err, "dark time shorter than the trigger lead")
}

func TestReadoutParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultReadoutParams().Validate())
	p := DefaultReadoutParams()
	p.InnerLoopSize = 1
	assert.Error(t, p.Validate())
	p = DefaultReadoutParams()
	p.GateWindow = 0
	assert.Error(t, p.Validate())

	_, err := NewCompiler(WithReadout(p))
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("clocked")
	require.NoError(t, err)
	assert.Equal(t, SampleClocked, s)
	_, err = ParseStrategy("bogus")
	assert.Error(t, err)
}
