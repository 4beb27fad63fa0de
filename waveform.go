// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	headPadSamples = 32
	tailPadSamples = 128
)

// ChannelID identifies an AWG output channel.
type ChannelID int

// IQ is a normalized in-phase/quadrature amplitude in [-1, 1].
type IQ struct {
	I, Q float64
}

// IsZero reports whether both components are zero.
func (v IQ) IsZero() bool { return v.I == 0 && v.Q == 0 }

// AWGConfig describes the waveform generator and its settling behaviour.
type AWGConfig struct {
	// Channels is the number of I/Q channel pairs. Zero disables waveform
	// generation.
	Channels int
	// VirtualRate is the rate in Hz at which waveforms are built.
	VirtualRate float64
	// SampleRate is the native rate of the instrument.
	SampleRate float64
	// AmplitudeVolts is the output voltage of a full-scale sample.
	AmplitudeVolts float64
	// Edge extension applied after every falling edge to absorb settling.
	PreEdgeNs  int
	PostEdgeNs int
	// ExtraPreDelayNs is added to the fixed zero padding at the head.
	ExtraPreDelayNs int
	// LeadInNs is the interval after the trigger that must stay at zero.
	LeadInNs int
	// FinalTailSamples zeros are appended after downsampling.
	FinalTailSamples int
}

// DefaultAWGConfig returns the configuration of the reference instrument.
func DefaultAWGConfig() AWGConfig {
	return AWGConfig{
		Channels:         2,
		VirtualRate:      1e9,
		SampleRate:       5e8,
		AmplitudeVolts:   0.5,
		PreEdgeNs:        10,
		PostEdgeNs:       10,
		LeadInNs:         20,
		FinalTailSamples: 64,
	}
}

// Validate checks the configuration for consistency.
func (c AWGConfig) Validate() error {
	if c.Channels < 0 {
		return errors.Errorf("awg: negative channel count %d", c.Channels)
	}
	if c.Channels == 0 {
		return nil
	}
	if c.VirtualRate <= 0 || c.SampleRate <= 0 {
		return errors.Errorf("awg: rates must be positive (virtual %g, native %g)", c.VirtualRate, c.SampleRate)
	}
	if c.SampleRate > c.VirtualRate {
		return errors.Errorf("awg: native rate %g above virtual rate %g", c.SampleRate, c.VirtualRate)
	}
	if c.PreEdgeNs < 0 || c.PostEdgeNs < 0 || c.ExtraPreDelayNs < 0 || c.LeadInNs < 0 || c.FinalTailSamples < 0 {
		return errors.New("awg: negative padding or edge extension")
	}
	return nil
}

func (c AWGConfig) samplesPerNs() float64 { return c.VirtualRate / 1e9 }

// TriggerLeadNs is the time from the AWG trigger to the first recorded
// sample of a pass. The instrument spends it playing the head padding.
func (c AWGConfig) TriggerLeadNs() float64 {
	if c.Channels == 0 || !(c.VirtualRate > 0) {
		return 0
	}
	spn := c.samplesPerNs()
	return float64(headPadSamples+int(math.Round(float64(c.ExtraPreDelayNs)*spn))) / spn
}

// Decimation returns N, the number of virtual samples per native sample.
func (c AWGConfig) Decimation() int {
	n := int(math.Round(c.VirtualRate / c.SampleRate))
	if n < 1 {
		n = 1
	}
	return n
}

// Range is the span of sample values of one output.
type Range struct {
	Min, Max float64
}

// Waveform is a normalized, edge extended and downsampled channel ready to be
// written to the instrument. I and Q are in volts.
type Waveform struct {
	Pass       int
	Channel    ChannelID
	I, Q       []float64
	SampleRate float64
	IRange     Range
	QRange     Range
	// DC is set when the channel never leaves zero. Such channels are
	// configured as DC outputs rather than played back.
	DC bool
}

type channelBuffer struct {
	i, q []float64
}

type recordedPass struct {
	id       int
	channels []channelBuffer
	// elapsed is the recorded time in ns. Sample counts follow it so that
	// rounding does not accumulate over many appends.
	elapsed float64
}

// WaveformCompiler builds per-channel sample buffers in lock-step with the
// instruction stream. Samples are only recorded between BeginPass and EndPass.
type WaveformCompiler struct {
	cfg AWGConfig
	log *zap.Logger

	passes  []recordedPass
	current *recordedPass
}

// NewWaveformCompiler creates a waveform compiler for cfg.
func NewWaveformCompiler(cfg AWGConfig, log *zap.Logger) *WaveformCompiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WaveformCompiler{cfg: cfg, log: log}
}

// Enabled reports whether any AWG channel is configured.
func (w *WaveformCompiler) Enabled() bool { return w.cfg.Channels > 0 }

// Recording reports whether a pass is open.
func (w *WaveformCompiler) Recording() bool { return w.current != nil }

// BeginPass starts a fresh buffer set for the given pass.
func (w *WaveformCompiler) BeginPass(id int) error {
	if w.current != nil {
		return errors.Errorf("awg: pass %d still open", w.current.id)
	}
	for _, p := range w.passes {
		if p.id == id {
			return errors.Errorf("awg: pass %d recorded twice", id)
		}
	}
	w.current = &recordedPass{id: id, channels: make([]channelBuffer, w.cfg.Channels)}
	return nil
}

// EndPass stores the open pass.
func (w *WaveformCompiler) EndPass() error {
	if w.current == nil {
		return errors.New("awg: no open pass")
	}
	w.passes = append(w.passes, *w.current)
	w.log.Debug("awg pass recorded",
		zap.Int("pass", w.current.id),
		zap.Int("samples", w.current.length()),
	)
	w.current = nil
	return nil
}

// Reset discards every recorded pass.
func (w *WaveformCompiler) Reset() {
	w.passes = nil
	w.current = nil
}

func (p *recordedPass) length() int {
	if len(p.channels) == 0 {
		return 0
	}
	return len(p.channels[0].i)
}

// Check validates values without recording them.
func (w *WaveformCompiler) Check(values map[ChannelID]IQ) error {
	for ch, v := range values {
		if int(ch) < 0 || int(ch) >= w.cfg.Channels {
			return newError(ErrUnknownChannel, -1, "channel %d of %d", ch, w.cfg.Channels)
		}
		if math.Abs(v.I) > 1 || math.Abs(v.Q) > 1 || math.IsNaN(v.I) || math.IsNaN(v.Q) {
			return newError(ErrAmplitudeOutOfRange, -1, "channel %d amplitude (%g, %g)", ch, v.I, v.Q)
		}
	}
	return nil
}

// Append adds a constant run of durationNs to every channel. Channels
// without an entry in values get zero.
func (w *WaveformCompiler) Append(values map[ChannelID]IQ, durationNs float64) error {
	if err := w.Check(values); err != nil {
		return err
	}
	if w.current == nil {
		return nil
	}
	end := w.current.elapsed + durationNs
	n := int(math.Round(end*w.cfg.samplesPerNs())) - w.current.length()
	w.current.elapsed = end
	for ch := range w.current.channels {
		v := values[ChannelID(ch)]
		buf := &w.current.channels[ch]
		for k := 0; k < n; k++ {
			buf.i = append(buf.i, v.I)
			buf.q = append(buf.q, v.Q)
		}
	}
	return nil
}

// Passes returns the ids of the recorded passes in recording order.
func (w *WaveformCompiler) Passes() []int {
	ids := make([]int, 0, len(w.passes))
	for _, p := range w.passes {
		ids = append(ids, p.id)
	}
	return ids
}

// Raw returns a copy of the recorded virtual samples of a channel.
func (w *WaveformCompiler) Raw(pass int, ch ChannelID) (i, q []float64, ok bool) {
	buf, ok := w.buffer(pass, ch)
	if !ok {
		return nil, nil, false
	}
	return append([]float64(nil), buf.i...), append([]float64(nil), buf.q...), true
}

func (w *WaveformCompiler) buffer(pass int, ch ChannelID) (channelBuffer, bool) {
	for _, p := range w.passes {
		if p.id != pass {
			continue
		}
		if int(ch) < 0 || int(ch) >= len(p.channels) {
			return channelBuffer{}, false
		}
		return p.channels[ch], true
	}
	return channelBuffer{}, false
}

// Finalize pads, edge extends, checks, downsamples and scales one channel of a
// recorded pass. It does not modify the recorded samples, so repeated calls
// return identical waveforms.
func (w *WaveformCompiler) Finalize(pass int, ch ChannelID) (Waveform, error) {
	buf, ok := w.buffer(pass, ch)
	if !ok {
		return Waveform{}, newError(ErrUnknownChannel, -1, "no recording for pass %d channel %d", pass, ch)
	}
	spn := w.cfg.samplesPerNs()
	ext := int(math.Round(float64(w.cfg.PreEdgeNs+w.cfg.PostEdgeNs) * spn))
	head := headPadSamples + int(math.Round(float64(w.cfg.ExtraPreDelayNs)*spn))
	tail := tailPadSamples + ext

	i := pad(buf.i, head, tail)
	q := pad(buf.q, head, tail)

	if err := extendEdges(i, q, ext); err != nil {
		var dt *DeadTimeError
		if errors.As(err, &dt) {
			dt.Pass, dt.Channel = pass, ch
			dt.Start -= head
		}
		return Waveform{}, err
	}

	leadIn := head + int(math.Round(float64(w.cfg.LeadInNs)*spn))
	for k := 0; k < leadIn && k < len(i); k++ {
		if i[k] != 0 || q[k] != 0 {
			return Waveform{}, newError(ErrInsufficientLeadIn, -1,
				"pass %d channel %d is non-zero %d ns after the trigger, need %d ns at zero",
				pass, ch, k-head, w.cfg.LeadInNs)
		}
	}

	n := w.cfg.Decimation()
	wf := Waveform{
		Pass:       pass,
		Channel:    ch,
		I:          w.scale(downsample(i, n, w.cfg.FinalTailSamples)),
		Q:          w.scale(downsample(q, n, w.cfg.FinalTailSamples)),
		SampleRate: w.cfg.VirtualRate / float64(n),
	}
	wf.IRange = span(wf.I)
	wf.QRange = span(wf.Q)
	wf.DC = wf.IRange == (Range{}) && wf.QRange == (Range{})
	return wf, nil
}

// FinalizeAll finalizes every channel of every pass, in pass then channel
// order.
func (w *WaveformCompiler) FinalizeAll() ([]Waveform, error) {
	var out []Waveform
	for _, p := range w.passes {
		for ch := range p.channels {
			wf, err := w.Finalize(p.id, ChannelID(ch))
			if err != nil {
				return nil, err
			}
			out = append(out, wf)
		}
	}
	return out, nil
}

func (w *WaveformCompiler) scale(v []float64) []float64 {
	for k := range v {
		v[k] *= w.cfg.AmplitudeVolts
	}
	return v
}

func pad(v []float64, head, tail int) []float64 {
	out := make([]float64, head+len(v)+tail)
	copy(out[head:], v)
	return out
}

// extendEdges holds the value before every falling edge for ext samples. A
// following run of the same value inside the window is merged; a different
// value is a dead time violation.
func extendEdges(i, q []float64, ext int) error {
	if ext <= 0 {
		return nil
	}
	zero := func(k int) bool { return i[k] == 0 && q[k] == 0 }
	n := len(i)
	for k := 0; k < n-1; k++ {
		if zero(k) || !zero(k+1) {
			continue
		}
		vi, vq := i[k], q[k]
		end := k + 1 + ext
		if end > n {
			end = n
		}
		j := k + 1
		for j < end && zero(j) {
			j++
		}
		if j < end && (i[j] != vi || q[j] != vq) {
			return &DeadTimeError{Start: k + 1, Gap: j - (k + 1), Required: ext}
		}
		for m := k + 1; m < j; m++ {
			i[m], q[m] = vi, vq
		}
		k = j - 1
	}
	return nil
}

func downsample(v []float64, n, tail int) []float64 {
	count := (len(v) + n - 1) / n
	out := make([]float64, 0, count+1+tail)
	for k := 0; k < len(v); k += n {
		out = append(out, v[k])
	}
	if len(out)%2 != 0 {
		out = append(out, 0)
	}
	return append(out, make([]float64, tail)...)
}

func span(v []float64) Range {
	var r Range
	for _, x := range v {
		r.Min = math.Min(r.Min, x)
		r.Max = math.Max(r.Max, x)
	}
	return r
}
