// Package connutil wires the sequencer and AWG connections from command
// line flags.
package connutil

import (
	"path/filepath"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/cmdlog"
	"github.com/gotmc/pulseseq/lib/config"
	"github.com/gotmc/pulseseq/lib/find"
	"github.com/gotmc/pulseseq/lib/scpiawg"
	"github.com/gotmc/pulseseq/lib/seqserial"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoAWG is returned when a program with waveforms is armed but no AWG
// address was given.
var ErrNoAWG = errors.New("no awg address configured")

type Conn struct {
	SerialPort string
	Baud       int
	Timeout    time.Duration
	AWGAddress string
	Trace      bool
}

// AddFlags registers the connection flags on fs, defaulting to dev.
func (c *Conn) AddFlags(fs *pflag.FlagSet, dev config.DeviceConfig) {
	dev = dev.WithDefaults()
	fs.StringVar(&c.SerialPort, "port", dev.SequencerPort,
		"serial port of the pulse sequencer (default: autodetect)")
	fs.IntVar(&c.Baud, "baud", dev.Baud, "sequencer baud rate")
	fs.DurationVar(&c.Timeout, "timeout", dev.ReadTimeout, "sequencer and awg reply timeout")
	fs.StringVar(&c.AWGAddress, "awg", dev.AWGAddress, "host:port of the awg SCPI socket")
	fs.BoolVar(&c.Trace, "trace", false, "log every SCPI command")
}

// ApplyConfig copies dev into every connection flag not set on the command
// line.
func (c *Conn) ApplyConfig(fs *pflag.FlagSet, dev config.DeviceConfig) {
	dev = dev.WithDefaults()
	if !fs.Changed("port") {
		c.SerialPort = dev.SequencerPort
	}
	if !fs.Changed("baud") {
		c.Baud = dev.Baud
	}
	if !fs.Changed("timeout") {
		c.Timeout = dev.ReadTimeout
	}
	if !fs.Changed("awg") {
		c.AWGAddress = dev.AWGAddress
	}
}

type device struct {
	*seqserial.Sequencer
	pulseseq.WaveformCommitter
}

type noAWG struct{}

func (noAWG) WriteWaveform(pulseseq.Waveform) error { return ErrNoAWG }
func (noAWG) Commit() error                         { return nil }

// Setup is to be called after flags are parsed. The returned cleanup turns
// the AWG outputs off and closes both connections.
func (c *Conn) Setup(limits pulseseq.HardwareLimits, log *zap.Logger) (
	dev pulseseq.Device,
	cleanup func() error,
	err error,
) {
	nocleanup := func() error { return nil }
	if log == nil {
		log = zap.NewNop()
	}

	port := c.SerialPort
	if port == "" {
		port, err = find.Find(find.SequencerFilter)
		if err != nil {
			return nil, nocleanup, errors.Wrap(err, "locate sequencer")
		}
		if !filepath.IsAbs(port) {
			port = "/dev/" + port
		}
	}
	log.Info("sequencer", zap.String("port", port), zap.Int("baud", c.Baud))

	seq, err := seqserial.Open(port, c.Baud, c.Timeout,
		seqserial.WithLimits(limits), seqserial.WithLogger(log.Named("seq")))
	if err != nil {
		return nil, nocleanup, err
	}

	if c.AWGAddress == "" {
		log.Info("no awg address, waveforms cannot be armed")
		return device{seq, noAWG{}}, seq.Close, nil
	}

	sock, err := scpiawg.Dial(c.AWGAddress, c.Timeout)
	if err != nil {
		return nil, nocleanup, multierr.Append(err, seq.Close())
	}
	var t scpiawg.Transport = sock
	if c.Trace {
		t = cmdlog.Trace(sock, log.Named("scpi"))
	}
	awg := scpiawg.New(t, scpiawg.WithLogger(log.Named("awg")))

	cleanup = func() error {
		return multierr.Combine(awg.Close(), sock.Close(), seq.Close())
	}
	return device{seq, armedAWG{awg}}, cleanup, nil
}

// armedAWG turns the used outputs on once playback is programmed.
type armedAWG struct{ *scpiawg.AWG }

func (a armedAWG) Commit() error {
	if err := a.AWG.Commit(); err != nil {
		return err
	}
	return a.Enable()
}
