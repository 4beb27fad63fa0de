// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitAWG is a single channel at 1 sample/ns with no scaling.
func unitAWG() AWGConfig {
	return AWGConfig{
		Channels:       1,
		VirtualRate:    1e9,
		SampleRate:     1e9,
		AmplitudeVolts: 1,
		PostEdgeNs:     20,
	}
}

func record(t *testing.T, w *WaveformCompiler, pass int, runs ...func() error) {
	t.Helper()
	require.NoError(t, w.BeginPass(pass))
	for _, run := range runs {
		require.NoError(t, run())
	}
	require.NoError(t, w.EndPass())
}

func run(w *WaveformCompiler, v IQ, ns float64) func() error {
	return func() error {
		if v.IsZero() {
			return w.Append(nil, ns)
		}
		return w.Append(map[ChannelID]IQ{0: v}, ns)
	}
}

func TestDeadTimeTooShort(t *testing.T) {
	w := NewWaveformCompiler(unitAWG(), nil)
	record(t, w, 0,
		run(w, IQ{I: 0.5}, 40),
		run(w, IQ{}, 5),
		run(w, IQ{I: 0.3}, 40),
	)
	_, err := w.Finalize(0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPulseDeadTimeTooShort)

	var dt *DeadTimeError
	require.True(t, errors.As(err, &dt))
	assert.Equal(t, 0, dt.Pass)
	assert.Equal(t, ChannelID(0), dt.Channel)
	assert.Equal(t, 40, dt.Start)
	assert.Equal(t, 5, dt.Gap)
	assert.Equal(t, 20, dt.Required)
}

func TestDeadTimeMerge(t *testing.T) {
	w := NewWaveformCompiler(unitAWG(), nil)
	record(t, w, 0,
		run(w, IQ{I: 0.5}, 40),
		run(w, IQ{}, 5),
		run(w, IQ{I: 0.5}, 40),
	)
	wf, err := w.Finalize(0, 0)
	require.NoError(t, err)

	// 32 head zeros, 40+5+40 merged samples, 20 extension, tail zeros.
	require.Len(t, wf.I, 32+85+128+20+1)
	for k, v := range wf.I {
		if k >= 32 && k < 32+85+20 {
			assert.Equal(t, 0.5, v, "sample %d", k)
		} else {
			assert.Equal(t, 0.0, v, "sample %d", k)
		}
	}
	assert.Equal(t, Range{Min: 0, Max: 0.5}, wf.IRange)
	assert.False(t, wf.DC)
}

func TestFinalizeIdempotent(t *testing.T) {
	cfg := DefaultAWGConfig()
	w := NewWaveformCompiler(cfg, nil)
	record(t, w, 3,
		func() error { return w.Append(nil, 40) },
		func() error { return w.Append(map[ChannelID]IQ{0: {I: 1, Q: -0.25}, 1: {Q: 0.5}}, 33) },
		func() error { return w.Append(nil, 7) },
	)
	first, err := w.Finalize(3, 0)
	require.NoError(t, err)
	second, err := w.Finalize(3, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	i, _, ok := w.Raw(3, 0)
	require.True(t, ok)
	assert.Len(t, i, 80)

	assert.Equal(t, 5e8, first.SampleRate)
	assert.Zero(t, len(first.I)%2)
	assert.Equal(t, Range{Min: 0, Max: 0.5}, first.IRange)
	assert.Equal(t, Range{Min: -0.125, Max: 0}, first.QRange)
}

func TestFinalizeDC(t *testing.T) {
	w := NewWaveformCompiler(DefaultAWGConfig(), nil)
	record(t, w, 0,
		func() error { return w.Append(map[ChannelID]IQ{0: {I: 0.2}}, 100) },
	)
	wfs, err := w.FinalizeAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientLeadIn)
	assert.Nil(t, wfs)

	w.Reset()
	record(t, w, 0,
		func() error { return w.Append(nil, 30) },
		func() error { return w.Append(map[ChannelID]IQ{0: {I: 0.2}}, 100) },
	)
	wfs, err = w.FinalizeAll()
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	assert.False(t, wfs[0].DC)
	assert.True(t, wfs[1].DC)
	assert.Equal(t, ChannelID(1), wfs[1].Channel)
}

func TestAppendValidation(t *testing.T) {
	w := NewWaveformCompiler(DefaultAWGConfig(), nil)
	err := w.Append(map[ChannelID]IQ{2: {I: 0.1}}, 10)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	err = w.Append(map[ChannelID]IQ{0: {I: 1.5}}, 10)
	assert.ErrorIs(t, err, ErrAmplitudeOutOfRange)

	// Outside a pass valid appends are ignored.
	require.NoError(t, w.Append(map[ChannelID]IQ{0: {I: 0.1}}, 10))
	assert.Empty(t, w.Passes())
}

func TestDownsampleParity(t *testing.T) {
	cfg := unitAWG()
	cfg.SampleRate = 3.3e8
	cfg.FinalTailSamples = 5
	assert.Equal(t, 3, cfg.Decimation())

	w := NewWaveformCompiler(cfg, nil)
	record(t, w, 0, run(w, IQ{}, 31), run(w, IQ{I: 1}, 9))
	wf, err := w.Finalize(0, 0)
	require.NoError(t, err)
	// 32+40+148 = 220 virtual samples, 74 after decimation, plus the tail.
	assert.Len(t, wf.I, 74+5)
	assert.InDelta(t, 1e9/3, wf.SampleRate, 1e-3)
}
