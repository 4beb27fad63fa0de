// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handle controls a stream loaded into the sequencer.
type Handle interface {
	Start() error
	// Stop halts the sequencer. A sequencer that already reached STOP
	// reports ErrAlreadyStopped.
	Stop() error
}

// StreamWriter loads an instruction stream into the pulse sequencer.
type StreamWriter interface {
	WriteInstructionStream(stream []Instruction) (Handle, error)
}

// WaveformWriter loads one channel of one pass into the AWG.
type WaveformWriter interface {
	WriteWaveform(w Waveform) error
}

// WaveformCommitter is a WaveformWriter that programs playback only once
// every pass is written, for instruments that play the passes as one
// trigger-advanced sequence.
type WaveformCommitter interface {
	WaveformWriter
	Commit() error
}

// Device is a sequencer and AWG pair.
type Device interface {
	StreamWriter
	WaveformWriter
}

// Arm writes the instruction stream and then every non-empty waveform. An awg
// implementing WaveformCommitter is committed after the last waveform. Arm
// stops at the first error. awg may be nil for programs without waveforms.
func Arm(seq StreamWriter, awg WaveformWriter, prog *CompiledProgram) (Handle, error) {
	if prog == nil {
		return nil, errors.New("arm: nil program")
	}
	if !prog.TerminatedCleanly {
		return nil, newError(ErrNotTerminated, len(prog.Instructions)-1, "stream does not end in STOP or BRANCH")
	}
	h, err := seq.WriteInstructionStream(prog.Instructions)
	if err != nil {
		return nil, errors.Wrap(err, "arm: write instruction stream")
	}
	written := 0
	for _, w := range prog.Waveforms {
		if len(w.I) == 0 {
			continue
		}
		if awg == nil {
			return nil, errors.Errorf("arm: pass %d channel %d needs an AWG", w.Pass, w.Channel)
		}
		if err := awg.WriteWaveform(w); err != nil {
			return nil, errors.Wrapf(err, "arm: write pass %d channel %d", w.Pass, w.Channel)
		}
		written++
	}
	if c, ok := awg.(WaveformCommitter); ok && written > 0 {
		if err := c.Commit(); err != nil {
			return nil, errors.Wrap(err, "arm: commit waveforms")
		}
	}
	return h, nil
}

// Run arms dev with prog, starts it and waits until the program duration has
// elapsed or ctx is done, checking every poll. Continuous programs run until
// ctx is done. The sequencer is stopped before Run returns.
func Run(ctx context.Context, dev Device, prog *CompiledProgram, poll time.Duration, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	h, err := Arm(dev, dev, prog)
	if err != nil {
		return err
	}
	if err := h.Start(); err != nil {
		return errors.Wrap(err, "run: start")
	}
	started := time.Now()
	expected := time.Duration(prog.TotalDuration) * time.Nanosecond
	log.Info("sequencer started",
		zap.Duration("expected", expected),
		zap.Bool("continuous", prog.Continuous),
	)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	cancelled := false
wait:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			break wait
		case <-ticker.C:
			if !prog.Continuous && time.Since(started) >= expected {
				break wait
			}
		}
	}

	if err := h.Stop(); err != nil {
		if !errors.Is(err, ErrAlreadyStopped) {
			return errors.Wrap(err, "run: stop")
		}
		log.Warn("sequencer stopped on its own before stop was sent",
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
	}
	if cancelled {
		return ctx.Err()
	}
	return nil
}
