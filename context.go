// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"sort"

	"go.uber.org/zap"
)

// CompiledProgram is the result of one compilation. It is never modified
// after it is returned.
type CompiledProgram struct {
	Instructions      []Instruction
	Waveforms         []Waveform
	TotalDuration     float64
	TerminatedCleanly bool
	// Continuous is set when the stream ends in a BRANCH and never stops on
	// its own.
	Continuous bool
	Limits     HardwareLimits
}

// CompilerContext drives an Emitter and a WaveformCompiler in lock-step. It
// implements Sequencer. A context compiles exactly one program.
type CompilerContext struct {
	enc FlagEncoder
	em  *Emitter
	awg *WaveformCompiler
	log *zap.Logger
}

// NewCompilerContext returns a context writing to a fresh instruction stream
// and a fresh set of waveform buffers.
func NewCompilerContext(enc FlagEncoder, limits HardwareLimits, awg AWGConfig, log *zap.Logger) *CompilerContext {
	if log == nil {
		log = zap.NewNop()
	}
	if enc == nil {
		enc = BuiltinFlags()
	}
	return &CompilerContext{
		enc: enc,
		em:  NewEmitter(limits, log),
		awg: NewWaveformCompiler(awg, log),
		log: log,
	}
}

// Pulse emits a CONTINUE with flags active. While a pass is recorded the
// AWG channels are held at zero for the same duration. Durations are rounded
// to the sequencer clock before they reach either side.
func (c *CompilerContext) Pulse(duration float64, flags ...string) error {
	duration = c.em.limits.Quantize(duration)
	mask, err := c.enc.Encode(flags...)
	if err != nil {
		return err
	}
	if _, err := c.em.Emit(mask, Continue, 0, duration); err != nil {
		return err
	}
	return c.awg.Append(nil, duration)
}

// Wait emits a CONTINUE with every line off.
func (c *CompilerContext) Wait(duration float64) error {
	return c.Pulse(duration)
}

// Analog emits a CONTINUE and appends values to the AWG buffers. The awg<N>
// flag of every channel with a non-zero value is added to flags.
func (c *CompilerContext) Analog(values map[ChannelID]IQ, duration float64, flags ...string) error {
	if err := c.awg.Check(values); err != nil {
		return err
	}
	duration = c.em.limits.Quantize(duration)
	active := make([]ChannelID, 0, len(values))
	for ch, v := range values {
		if !v.IsZero() {
			active = append(active, ch)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	all := append([]string(nil), flags...)
	for _, ch := range active {
		all = append(all, ChannelFlag(ch))
	}
	mask, err := c.enc.Encode(all...)
	if err != nil {
		return err
	}
	if _, err := c.em.Emit(mask, Continue, 0, duration); err != nil {
		return err
	}
	return c.awg.Append(values, duration)
}

// Control emits a LOOP, END_LOOP, BRANCH or STOP and returns its index.
func (c *CompilerContext) Control(op Opcode, operand uint32, duration float64, flags ...string) (int, error) {
	if c.awg.Recording() && (op == Loop || op == EndLoop) {
		return -1, newError(ErrLoopMismatch, c.em.Len(), "%s inside a recorded pass", op)
	}
	mask, err := c.enc.Encode(flags...)
	if err != nil {
		return -1, err
	}
	return c.em.Emit(mask, op, operand, c.em.limits.Quantize(duration))
}

// TriggerLead returns the time StartPass emits for a trigger of width ns.
func (c *CompilerContext) TriggerLead(width float64) float64 {
	width = c.em.limits.Quantize(width)
	if !c.awg.Enabled() {
		return width
	}
	if lead := c.em.limits.QuantizeUp(c.awg.cfg.TriggerLeadNs()); lead > width {
		return lead
	}
	return width
}

// StartPass emits the AWG trigger and waits out the head padding the
// instrument plays before the first recorded sample, so recorded samples line
// up with the instructions that follow. When record is set pass is recorded
// from there on. Without AWG channels it emits a plain wait of width.
func (c *CompilerContext) StartPass(pass int, width float64, record bool) error {
	if !c.awg.Enabled() {
		return c.Wait(width)
	}
	lead := c.TriggerLead(width)
	if err := c.Pulse(width, FlagAWGTrigger); err != nil {
		return err
	}
	if err := c.Wait(lead - c.em.limits.Quantize(width)); err != nil {
		return err
	}
	if !record {
		return nil
	}
	if err := c.BeginPass(pass); err != nil {
		return err
	}
	// The wait above is rounded up to the clock. Record the surplus so the
	// padding and the wait end together.
	return c.awg.Append(nil, lead-c.awg.cfg.TriggerLeadNs())
}

// BeginPass starts recording the AWG buffers of a pass. It is a no-op when no
// AWG channel is configured.
func (c *CompilerContext) BeginPass(pass int) error {
	if !c.awg.Enabled() {
		return nil
	}
	c.log.Debug("begin pass", zap.Int("pass", pass), zap.Int("index", c.em.Len()))
	return c.awg.BeginPass(pass)
}

// EndPass stops recording the open pass.
func (c *CompilerContext) EndPass() error {
	if !c.awg.Recording() {
		return nil
	}
	return c.awg.EndPass()
}

// Recording reports whether a pass is open.
func (c *CompilerContext) Recording() bool { return c.awg.Recording() }

// Len returns the number of emitted instructions.
func (c *CompilerContext) Len() int { return c.em.Len() }

// Limits returns the hardware limits of the stream.
func (c *CompilerContext) Limits() HardwareLimits { return c.em.limits }

// AWGEnabled reports whether any AWG channel is configured.
func (c *CompilerContext) AWGEnabled() bool { return c.awg.Enabled() }

// Finish closes the stream, finalizes every recorded waveform and returns
// the compiled program. Any failure discards the whole result.
func (c *CompilerContext) Finish() (*CompiledProgram, error) {
	if c.awg.Recording() {
		if err := c.awg.EndPass(); err != nil {
			return nil, err
		}
	}
	terminated, err := c.em.Finalize()
	if err != nil {
		return nil, err
	}
	total, _ := c.em.TotalDuration()
	last, _ := c.em.Last()
	var waveforms []Waveform
	if c.awg.Enabled() {
		if waveforms, err = c.awg.FinalizeAll(); err != nil {
			return nil, err
		}
	}
	return &CompiledProgram{
		Instructions:      c.em.Instructions(),
		Waveforms:         waveforms,
		TotalDuration:     total,
		TerminatedCleanly: terminated,
		Continuous:        last.Opcode == Branch,
		Limits:            c.em.limits,
	}, nil
}
