// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	p := Params{"tau": 100, "echo": 1}
	tau, err := p.Float("tau")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tau)

	_, err = p.Float("missing")
	assert.ErrorIs(t, err, ErrMissingParam)

	echo, err := p.Bool("echo")
	require.NoError(t, err)
	assert.True(t, echo)

	q := p.With(Params{"tau": 200, "phase": 0.5})
	assert.Equal(t, 100.0, p["tau"], "With must not modify the receiver")
	assert.Equal(t, Params{"tau": 200, "echo": 1, "phase": 0.5}, q)
	assert.Equal(t, []string{"echo", "phase", "tau"}, q.Keys())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("rabi", Params{"tau": 40}, drive))
	require.NoError(t, r.Register("delay", nil, drive))
	assert.Error(t, r.Register("rabi", nil, drive))
	assert.Error(t, r.Register("", nil, drive))
	assert.Error(t, r.Register("nil", nil, nil))

	assert.Equal(t, []string{"delay", "rabi"}, r.IDs())

	e, err := r.Resolve("rabi")
	require.NoError(t, err)
	assert.Equal(t, "rabi", e.ID)
	e.Defaults["tau"] = 1
	again, err := r.Resolve("rabi")
	require.NoError(t, err)
	assert.Equal(t, 40.0, again.Defaults["tau"])

	_, err = r.Resolve("ramsey")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestRegistryConcurrentResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("rabi", Params{"tau": 40}, drive))
	c := newTestCompiler(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Resolve("rabi")
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = c.Compile(ReadoutRequest{
				Name:    e.ID,
				Program: e.Program,
				Points:  []Params{e.Defaults.With(Params{"tau": float64(20 + 10*i)})},
				Reps:    uint64(i + 1),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestCompileProgram(t *testing.T) {
	c := newTestCompiler(t)
	prog, err := c.CompileProgram(drive, Params{"tau": 60})
	require.NoError(t, err)
	assert.Equal(t, []Opcode{Continue, Continue, Continue, Continue, Continue, Stop}, opcodes(prog.Instructions))
	assert.True(t, prog.TerminatedCleanly)
	assert.Equal(t, 10.0+22+20+60+50+10, prog.TotalDuration)
	assert.Equal(t, Bitmask(1<<5), prog.Instructions[0].Flags, "awg trigger")
	assert.Zero(t, prog.Instructions[1].Flags)
	require.Len(t, prog.Waveforms, 2)
	assert.Equal(t, 0, prog.Waveforms[0].Pass)

	digital, err := newTestCompiler(t, WithAWG(AWGConfig{})).CompileProgram(drive, Params{"tau": 60})
	require.NoError(t, err)
	assert.Equal(t, 20.0+60+50+10, digital.TotalDuration, "no trigger without an AWG")
	assert.Empty(t, digital.Waveforms)

	_, err = c.CompileProgram(nil, nil)
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestContextLoopInsidePass(t *testing.T) {
	ctx := NewCompilerContext(nil, DefaultHardwareLimits(), DefaultAWGConfig(), nil)
	require.NoError(t, ctx.BeginPass(0))
	_, err := ctx.Control(Loop, 2, 10)
	assert.ErrorIs(t, err, ErrLoopMismatch)
	require.NoError(t, ctx.EndPass())
	_, err = ctx.Control(Loop, 2, 10)
	assert.NoError(t, err)
	_, err = ctx.Finish()
	assert.ErrorIs(t, err, ErrUnterminatedLoop)
}

func TestContextClockGrid(t *testing.T) {
	ctx := NewCompilerContext(nil, DefaultHardwareLimits(), DefaultAWGConfig(), nil)
	require.NoError(t, ctx.BeginPass(0))
	for k := 0; k < 10; k++ {
		require.NoError(t, ctx.Pulse(41, FlagMW0))
	}
	require.NoError(t, ctx.Analog(map[ChannelID]IQ{0: {I: 1}}, 33))
	require.NoError(t, ctx.Wait(20))
	require.NoError(t, ctx.EndPass())
	_, err := ctx.Control(Stop, 0, 10)
	require.NoError(t, err)
	prog, err := ctx.Finish()
	require.NoError(t, err)

	var onset float64
	for _, ins := range prog.Instructions[:10] {
		assert.Equal(t, 42.0, ins.Duration, "rounded to the 2 ns clock")
		onset += ins.Duration
	}
	assert.Equal(t, 34.0, prog.Instructions[10].Duration)

	i, _, ok := ctx.awg.Raw(0, 0)
	require.True(t, ok)
	k := 0
	for k < len(i) && i[k] == 0 {
		k++
	}
	assert.Equal(t, onset, float64(k), "analog edge follows the instruction timeline")
	assert.Len(t, i, 420+34+20)
}

func TestContextAnalogFlags(t *testing.T) {
	ctx := NewCompilerContext(nil, DefaultHardwareLimits(), DefaultAWGConfig(), nil)
	err := ctx.Analog(map[ChannelID]IQ{0: {I: 2}}, 30)
	assert.ErrorIs(t, err, ErrAmplitudeOutOfRange)
	assert.Zero(t, ctx.Len())

	require.NoError(t, ctx.Analog(map[ChannelID]IQ{0: {}, 1: {Q: 0.4}}, 30, FlagMW1))
	_, err = ctx.Control(Stop, 0, 10)
	require.NoError(t, err)
	prog, err := ctx.Finish()
	require.NoError(t, err)
	assert.Equal(t, Bitmask(1<<4|1<<7), prog.Instructions[0].Flags)
	assert.Empty(t, prog.Waveforms, "nothing recorded outside a pass")
}
