// Package scpiawg loads compiled waveforms into a SCPI arbitrary waveform
// generator. Each logical I/Q channel drives two instrument sources.
//
// Every pass is uploaded as its own segment. Commit then builds one sequence
// per source that plays the segments in pass order, each waiting for the
// next trigger from the pulse sequencer.
package scpiawg

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/block"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// minWindow is the smallest output window in volts, used for component
// outputs that stay at zero while their partner plays.
const minWindow = 0.001

// Transport carries SCPI commands and queries to the instrument.
type Transport interface {
	io.Writer
	query.Querier
}

// Sources names the instrument sources of one logical channel.
type Sources struct{ I, Q int }

// segment is one uploaded component of one pass.
type segment struct {
	pass    int
	name    string
	samples []float64
	window  float64
	rate    float64
	dc      bool
}

// AWG is a pulseseq.WaveformWriter for SCPI instruments.
type AWG struct {
	t        Transport
	log      *zap.Logger
	sources  map[pulseseq.ChannelID]Sources
	used     map[int]bool
	segments map[int][]segment
	term     string
}

// Option applies an option to the AWG.
type Option func(*AWG)

// WithLogger logs every command at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(a *AWG) { a.log = log }
}

// WithSources overrides the source pair of a logical channel. The default
// pair of channel N is (2N+1, 2N+2).
func WithSources(ch pulseseq.ChannelID, s Sources) Option {
	return func(a *AWG) { a.sources[ch] = s }
}

// WithTerminator sets the command terminator, "\n" by default.
func WithTerminator(term string) Option {
	return func(a *AWG) { a.term = term }
}

// New creates an AWG writing to t.
func New(t Transport, opts ...Option) *AWG {
	a := &AWG{
		t:        t,
		log:      zap.NewNop(),
		sources:  make(map[pulseseq.ChannelID]Sources),
		used:     make(map[int]bool),
		segments: make(map[int][]segment),
		term:     "\n",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SourcesOf returns the instrument sources of a logical channel.
func (a *AWG) SourcesOf(ch pulseseq.ChannelID) Sources {
	if s, ok := a.sources[ch]; ok {
		return s
	}
	return Sources{I: 2*int(ch) + 1, Q: 2*int(ch) + 2}
}

// Command sends one command line.
func (a *AWG) Command(format string, args ...any) error {
	cmd := format
	if args != nil {
		cmd = fmt.Sprintf(format, args...)
	}
	cmd = strings.TrimSpace(cmd)
	a.log.Debug("scpi", zap.String("cmd", cmd))
	_, err := io.WriteString(a.t, cmd+a.term)
	return errors.Wrapf(err, "scpi %q", cmd)
}

// WriteWaveform stores both components of w as segments of pass w.Pass.
// Nothing is sent until Commit, because the output window of a source
// depends on every pass it plays.
func (a *AWG) WriteWaveform(w pulseseq.Waveform) error {
	src := a.SourcesOf(w.Channel)
	parts := []struct {
		name    string
		source  int
		samples []float64
		r       pulseseq.Range
	}{
		{"I", src.I, w.I, w.IRange},
		{"Q", src.Q, w.Q, w.QRange},
	}
	for _, p := range parts {
		for _, seg := range a.segments[p.source] {
			if seg.pass == w.Pass {
				return errors.Errorf("pass %d already written to source %d", w.Pass, p.source)
			}
		}
	}
	for _, p := range parts {
		a.used[p.source] = true
		a.segments[p.source] = append(a.segments[p.source], segment{
			pass:    w.Pass,
			name:    fmt.Sprintf("P%dC%d%s", w.Pass, w.Channel, p.name),
			samples: p.samples,
			window:  window(p.r),
			rate:    w.SampleRate,
			dc:      w.DC,
		})
	}
	return nil
}

// Commit uploads every stored segment and programs playback. A source whose
// passes all stay at zero is set to a DC output. Any other source plays a
// sequence of its segments sorted by pass, each waiting for the next
// external trigger.
func (a *AWG) Commit() error {
	for _, source := range a.usedSources() {
		segs := append([]segment(nil), a.segments[source]...)
		if len(segs) == 0 {
			continue
		}
		sort.Slice(segs, func(i, j int) bool { return segs[i].pass < segs[j].pass })
		if err := a.program(source, segs); err != nil {
			return err
		}
	}
	a.segments = make(map[int][]segment)
	return a.CheckError()
}

func (a *AWG) program(source int, segs []segment) error {
	var win, rate float64
	allDC := true
	for _, seg := range segs {
		if !seg.dc {
			allDC = false
			win = math.Max(win, seg.window)
			rate = seg.rate
		}
	}
	if allDC {
		return a.dc(source)
	}

	seq := fmt.Sprintf("SEQ%d", source)
	desc := strconv.Quote(seq)
	for _, seg := range segs {
		if err := a.upload(source, seg, win); err != nil {
			return err
		}
		desc += fmt.Sprintf(",%s,0,onceWaitTrig,maintain,4", strconv.Quote(seg.name))
	}
	header := fmt.Sprintf("SOUR%d:DATA:SEQ ", source)
	a.log.Debug("scpi", zap.String("cmd", header+desc))
	payload := append([]byte(header), block.Encode([]byte(desc))...)
	if _, err := a.t.Write(append(payload, a.term...)); err != nil {
		return errors.Wrapf(err, "sequence %s", seq)
	}

	cmds := []string{
		fmt.Sprintf("SOUR%d:FUNC:ARB %s", source, seq),
		fmt.Sprintf("SOUR%d:FUNC:ARB:SRAT %g", source, rate),
		fmt.Sprintf("SOUR%d:VOLT:HIGH %g", source, win),
		fmt.Sprintf("SOUR%d:VOLT:LOW %g", source, -win),
		fmt.Sprintf("TRIG%d:SOUR EXT", source),
		fmt.Sprintf("SOUR%d:FUNC ARB", source),
	}
	for _, cmd := range cmds {
		if err := a.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (a *AWG) upload(source int, seg segment, fullScale float64) error {
	header := fmt.Sprintf("SOUR%d:DATA:ARB %s,", source, seg.name)
	a.log.Debug("scpi", zap.String("cmd", header), zap.Int("samples", len(seg.samples)))
	payload := append([]byte(header), block.Pack(block.Quantize(seg.samples, fullScale))...)
	payload = append(payload, a.term...)
	_, err := a.t.Write(payload)
	return errors.Wrapf(err, "upload %s", seg.name)
}

func window(r pulseseq.Range) float64 {
	w := math.Max(math.Abs(r.Min), math.Abs(r.Max))
	if w < minWindow {
		w = minWindow
	}
	return w
}

func (a *AWG) dc(source int) error {
	if err := a.Command("SOUR%d:FUNC DC", source); err != nil {
		return err
	}
	return a.Command("SOUR%d:VOLT:OFFS 0", source)
}

// CheckError waits for pending operations and reads the error queue.
func (a *AWG) CheckError() error {
	done, err := query.Int(a.t, "*OPC?")
	if err != nil {
		return errors.Wrap(err, "*OPC?")
	}
	if done != 1 {
		return errors.Errorf("*OPC? returned %d", done)
	}
	msg, err := query.String(a.t, "SYST:ERR?")
	if err != nil {
		return errors.Wrap(err, "SYST:ERR?")
	}
	msg = strings.TrimSpace(msg)
	if code, _, _ := strings.Cut(msg, ","); strings.TrimLeft(code, "+") != "0" {
		return errors.Errorf("device error %s", msg)
	}
	return nil
}

// Close turns off every source a waveform was written to. All sources are
// attempted and their errors combined.
func (a *AWG) Close() error {
	var err error
	for _, source := range a.usedSources() {
		err = multierr.Append(err, a.Command("OUTP%d OFF", source))
	}
	a.used = make(map[int]bool)
	a.segments = make(map[int][]segment)
	return err
}

// Enable turns on every source a waveform was written to.
func (a *AWG) Enable() error {
	var err error
	for _, source := range a.usedSources() {
		err = multierr.Append(err, a.Command("OUTP%d ON", source))
	}
	return err
}

func (a *AWG) usedSources() []int {
	out := make([]int, 0, len(a.used))
	for s := range a.used {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
