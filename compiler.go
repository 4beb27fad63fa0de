// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Compiler turns pulse programs into compiled programs. Its settings are
// fixed at construction, so one Compiler may serve concurrent Compile calls.
type Compiler struct {
	enc      FlagEncoder
	limits   HardwareLimits
	awg      AWGConfig
	readout  ReadoutParams
	strategy ReadoutStrategy
	log      *zap.Logger
}

// CompilerOption applies an option to the compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the logger used for compilation traces.
func WithLogger(log *zap.Logger) CompilerOption {
	return func(c *Compiler) {
		if log != nil {
			c.log = log
		}
	}
}

// WithFlags replaces the built-in flag assignment.
func WithFlags(enc FlagEncoder) CompilerOption {
	return func(c *Compiler) {
		if enc != nil {
			c.enc = enc
		}
	}
}

// WithLimits sets the sequencer limits.
func WithLimits(limits HardwareLimits) CompilerOption {
	return func(c *Compiler) {
		c.limits = limits
	}
}

// WithAWG sets the waveform generator configuration. A configuration with
// zero channels disables waveform generation.
func WithAWG(cfg AWGConfig) CompilerOption {
	return func(c *Compiler) {
		c.awg = cfg
	}
}

// WithReadout sets the readout template timings.
func WithReadout(params ReadoutParams) CompilerOption {
	return func(c *Compiler) {
		c.readout = params
	}
}

// WithStrategy selects the counter gating strategy.
func WithStrategy(s ReadoutStrategy) CompilerOption {
	return func(c *Compiler) {
		c.strategy = s
	}
}

// NewCompiler creates a compiler for the reference hardware, modified by the
// given options.
func NewCompiler(opts ...CompilerOption) (*Compiler, error) {
	c := Compiler{
		enc:      BuiltinFlags(),
		limits:   DefaultHardwareLimits(),
		awg:      DefaultAWGConfig(),
		readout:  DefaultReadoutParams(),
		strategy: Gated,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.limits.ClockMHz <= 0 || c.limits.MinInstructionNs <= 0 || c.limits.MaxLoopRepeat == 0 {
		return nil, errors.Errorf("invalid hardware limits %+v", c.limits)
	}
	if err := c.awg.Validate(); err != nil {
		return nil, err
	}
	if err := c.readout.Validate(); err != nil {
		return nil, err
	}
	if _, ok := strategyDesc[c.strategy]; !ok {
		return nil, errors.Errorf("invalid readout strategy %d", c.strategy)
	}
	if err := c.checkTriggerLead(); err != nil {
		return nil, err
	}
	return &c, nil
}

// checkTriggerLead makes sure the waits around the AWG trigger can be emitted.
func (c *Compiler) checkTriggerLead() error {
	if c.awg.Channels == 0 {
		return nil
	}
	width := c.limits.Quantize(c.readout.TriggerWidth)
	lead := c.limits.QuantizeUp(c.awg.TriggerLeadNs())
	if gap := lead - width; gap > 0 && gap < c.limits.MinInstructionNs {
		return errors.Errorf("awg trigger lead of %g ns leaves %g ns after a %g ns trigger, need 0 or at least %g ns",
			lead, gap, width, c.limits.MinInstructionNs)
	}
	if lead < width {
		lead = width
	}
	if dark := c.readout.MinDark - lead; dark < 0 || (dark > 0 && dark < c.limits.MinInstructionNs) {
		return errors.Errorf("readout: minDark %g ns does not cover the %g ns awg trigger lead", c.readout.MinDark, lead)
	}
	return nil
}

// Limits returns the sequencer limits the compiler targets.
func (c *Compiler) Limits() HardwareLimits { return c.limits }

// Flags returns the flag encoder.
func (c *Compiler) Flags() FlagEncoder { return c.enc }

func (c *Compiler) newContext(log *zap.Logger) *CompilerContext {
	return NewCompilerContext(c.enc, c.limits, c.awg, log)
}

// Compile expands req through the readout template. On failure no partial
// program is returned and the error carries its original kind.
func (c *Compiler) Compile(req ReadoutRequest) (*CompiledProgram, error) {
	start := time.Now()
	log := c.log.With(zap.String("program", req.Name))
	ctx := c.newContext(log)

	prog, err := func() (*CompiledProgram, error) {
		if err := newExpander(ctx, c.readout, c.strategy, log).expand(req); err != nil {
			return nil, err
		}
		return ctx.Finish()
	}()
	observeCompile(req.Name, time.Since(start).Seconds(), prog, err)
	if err != nil {
		log.Debug("compile failed", zap.Error(err))
		return nil, err
	}
	log.Info("compiled",
		zap.Int("instructions", len(prog.Instructions)),
		zap.Int("waveforms", len(prog.Waveforms)),
		zap.Float64("duration_ns", prog.TotalDuration),
		zap.Bool("continuous", req.Continuous),
	)
	return prog, nil
}

// CompileProgram compiles fn once with params, without the readout template,
// and terminates the stream with STOP. With AWG channels the program is
// preceded by the AWG trigger and its lead, and waveforms are recorded as
// pass 0.
func (c *Compiler) CompileProgram(fn PulseProgram, params Params) (*CompiledProgram, error) {
	if fn == nil {
		return nil, newError(ErrUnknownProgram, -1, "nil pulse program")
	}
	start := time.Now()
	ctx := c.newContext(c.log)
	prog, err := func() (*CompiledProgram, error) {
		if ctx.AWGEnabled() {
			if err := ctx.StartPass(0, c.readout.TriggerWidth, true); err != nil {
				return nil, err
			}
		}
		if err := fn(ctx, params.With(nil)); err != nil {
			return nil, err
		}
		if err := ctx.EndPass(); err != nil {
			return nil, err
		}
		if _, err := ctx.Control(Stop, 0, c.limits.MinInstructionNs); err != nil {
			return nil, err
		}
		return ctx.Finish()
	}()
	observeCompile("", time.Since(start).Seconds(), prog, err)
	return prog, err
}
