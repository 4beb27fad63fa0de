// Package recipes holds the stock pulse programs. Each is plain data for a
// pulseseq.Registry: an id, default parameters and the program.
package recipes

import (
	"fmt"
	"math"

	"github.com/gotmc/pulseseq"
	"github.com/pkg/errors"
)

// Common parameter names. Durations are in ns, amplitudes are fractions of
// the AWG full scale and phases are in radians.
const (
	Tau     = "tau"
	Lead    = "lead"
	Tail    = "tail"
	Amp     = "amp"
	Pi2     = "pi2"
	Pi      = "pi"
	Phase   = "phase"
	Channel = "channel"
)

var stock = []pulseseq.Entry{
	{
		ID:       "delay",
		Defaults: pulseseq.Params{Tau: 100},
		Program:  Delay,
	},
	{
		ID:       "rabi",
		Defaults: pulseseq.Params{Tau: 40, Amp: 1, Lead: 50, Tail: 100},
		Program:  Rabi,
	},
	{
		ID:       "ramsey",
		Defaults: pulseseq.Params{Tau: 200, Pi2: 20, Amp: 1, Lead: 50, Tail: 100},
		Program:  Ramsey,
	},
	{
		ID:       "hahn-echo",
		Defaults: pulseseq.Params{Tau: 500, Pi2: 20, Pi: 40, Amp: 1, Lead: 50, Tail: 100},
		Program:  HahnEcho,
	},
	{
		ID:       "iq-pulse",
		Defaults: pulseseq.Params{Tau: 100, Amp: 0.5, Phase: 0, Channel: 0, Lead: 50, Tail: 100},
		Program:  IQPulse,
	},
}

// Register adds every stock program to r.
func Register(r *pulseseq.Registry) error {
	for _, e := range stock {
		if err := r.Register(e.ID, e.Defaults, e.Program); err != nil {
			return errors.Wrapf(err, "recipe %s", e.ID)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the stock programs.
func NewRegistry() (*pulseseq.Registry, error) {
	r := pulseseq.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

func floats(p pulseseq.Params, keys ...string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, err := p.Float(k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func mwFlag(ch pulseseq.ChannelID) string {
	return fmt.Sprintf("mw%d", ch)
}

func sign(p pulseseq.Params) float64 {
	if inv, _ := p.Bool(pulseseq.ParamVariant); inv {
		return -1
	}
	return 1
}

// Delay leaves the spin dark for tau. It is the baseline for the readout's
// AOM delay calibration.
func Delay(seq pulseseq.Sequencer, p pulseseq.Params) error {
	tau, err := p.Float(Tau)
	if err != nil {
		return err
	}
	return seq.Wait(tau)
}

// Rabi drives channel 0 for tau at amp. The inverted variant adds a pi
// phase by flipping the sign of I.
func Rabi(seq pulseseq.Sequencer, p pulseseq.Params) error {
	v, err := floats(p, Lead, Tau, Amp, Tail)
	if err != nil {
		return err
	}
	lead, tau, amp, tail := v[0], v[1], v[2], v[3]
	if err := seq.Wait(lead); err != nil {
		return err
	}
	drive := map[pulseseq.ChannelID]pulseseq.IQ{0: {I: sign(p) * amp}}
	if err := seq.Analog(drive, tau, mwFlag(0)); err != nil {
		return err
	}
	return seq.Wait(tail)
}

// Ramsey is pi/2, free precession for tau, pi/2. The inverted variant flips
// the second pulse, so tau must cover the AWG dead time.
func Ramsey(seq pulseseq.Sequencer, p pulseseq.Params) error {
	v, err := floats(p, Lead, Pi2, Tau, Amp, Tail)
	if err != nil {
		return err
	}
	lead, pi2, tau, amp, tail := v[0], v[1], v[2], v[3], v[4]
	steps := []struct {
		i, d float64
	}{
		{0, lead},
		{amp, pi2},
		{0, tau},
		{sign(p) * amp, pi2},
		{0, tail},
	}
	return play(seq, steps)
}

// HahnEcho is pi/2, tau, pi, tau, pi/2 with the last pulse flipped in the
// inverted variant.
func HahnEcho(seq pulseseq.Sequencer, p pulseseq.Params) error {
	v, err := floats(p, Lead, Pi2, Pi, Tau, Amp, Tail)
	if err != nil {
		return err
	}
	lead, pi2, pi, tau, amp, tail := v[0], v[1], v[2], v[3], v[4], v[5]
	steps := []struct {
		i, d float64
	}{
		{0, lead},
		{amp, pi2},
		{0, tau},
		{amp, pi},
		{0, tau},
		{sign(p) * amp, pi2},
		{0, tail},
	}
	return play(seq, steps)
}

func play(seq pulseseq.Sequencer, steps []struct{ i, d float64 }) error {
	for _, s := range steps {
		var err error
		if s.i == 0 {
			err = seq.Wait(s.d)
		} else {
			err = seq.Analog(map[pulseseq.ChannelID]pulseseq.IQ{0: {I: s.i}}, s.d, mwFlag(0))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IQPulse plays one pulse of amp at phase on the given channel.
func IQPulse(seq pulseseq.Sequencer, p pulseseq.Params) error {
	v, err := floats(p, Lead, Tau, Amp, Phase, Channel, Tail)
	if err != nil {
		return err
	}
	lead, tau, amp, phase, tail := v[0], v[1], v[2], v[3], v[5]
	if v[4] < 0 || v[4] != math.Trunc(v[4]) {
		return errors.Errorf("iq-pulse: channel %g is not a channel number", v[4])
	}
	ch := pulseseq.ChannelID(v[4])
	amp *= sign(p)
	iq := pulseseq.IQ{I: amp * math.Cos(phase), Q: amp * math.Sin(phase)}
	if err := seq.Wait(lead); err != nil {
		return err
	}
	if err := seq.Analog(map[pulseseq.ChannelID]pulseseq.IQ{ch: iq}, tau, mwFlag(ch)); err != nil {
		return err
	}
	return seq.Wait(tail)
}
