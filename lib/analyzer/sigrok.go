package analyzer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/find"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type CaptureConfig struct {
	Rate, Samples uint64
	Channels      Channels
	AddTimestamp  bool
}

// AddFlags registers the capture flags on fs.
func (cc *CaptureConfig) AddFlags(fs *pflag.FlagSet) {
	fs.Uint64Var(&cc.Rate, "capture-rate", 0, "logic analyzer sample rate")
	fs.Uint64Var(&cc.Samples, "capture-samples", 0, "logic analyzer number of samples")
	fs.BoolVar(&cc.AddTimestamp, "capture-ts", true, "add timestamp to capture filename to avoid overwrites")
}

// Enabled reports whether a capture was requested. Giving only one of rate
// and samples is an error.
func (cc *CaptureConfig) Enabled() (bool, error) {
	switch {
	case cc.Rate > 0 && cc.Samples > 0:
		return true, nil
	case cc.Rate > 0 || cc.Samples > 0:
		return false, errors.New("only one of --capture-rate, --capture-samples provided; both required")
	}
	return false, nil
}

func (cc *CaptureConfig) filename(prefix, ext string) string {
	fname := prefix
	if cc.AddTimestamp {
		fname += "_" + time.Now().Format("02Jan_15_04_05.000")
	}
	return fname + ext
}

// maps from channel name to signal name
type Channels []Channel

type Channel [2]string // channel name, signal name

// SequencerChannels maps sequencer line i to pico input D(i+2), named after
// the symbol the line carries.
func SequencerChannels(enc pulseseq.FlagEncoder) Channels {
	lines := Lines(enc)
	cs := make(Channels, 0, len(lines))
	for i, name := range lines {
		if 2+i > 22 {
			break
		}
		cs = append(cs, Channel{fmt.Sprintf("D%d", 2+i), name})
	}
	return cs
}

func (c Channels) SRArgs() []string {
	if c == nil {
		return nil
	}
	cs := make([]string, 0, len(c))
	for _, ch := range c {
		if len(ch[1]) == 0 {
			cs = append(cs, ch[0])
		} else {
			// NOTE renamed channels must begin with D - see
			// https://github.com/pico-coder/sigrok-pico/issues/41
			cs = append(cs, fmt.Sprintf("%s=D%s", ch[0], ch[1]))
		}
	}
	return []string{
		"--channels",
		strings.Join(cs, ","),
	}
}

// Sigrok captures with sigrok-cli from a pico running sigrok-pico.
type Sigrok struct{ CaptureConfig }

// Args returns the sigrok-cli arguments for a capture from the pico at tty
// into fname.
func (sr *Sigrok) Args(tty, fname string) []string {
	dev := fmt.Sprintf("raspberrypi-pico:conn=%s:serialcomm=115200/flow=0", tty)
	args := []string{
		"-l", "2",
		"-d", dev,
		"--config", fmt.Sprintf("samplerate=%d", sr.Rate),
		"--samples", strconv.FormatUint(sr.Samples, 10),
	}
	args = append(args, sr.Channels.SRArgs()...)
	return append(args, "-o", fname)
}

// Capture runs sigrok-cli until the requested samples are taken and returns
// the output file name.
func (sr *Sigrok) Capture(ctx context.Context, log *zap.Logger) (string, error) {
	pico, err := find.Find(find.PiPicoFilter)
	if err != nil {
		return "", errors.Wrap(err, "sigrok")
	}
	if !strings.HasPrefix(pico, "/") {
		pico = "/dev/" + pico
	}
	fname := sr.filename("sigrok_out", ".sr")
	cli := exec.CommandContext(ctx, "sigrok-cli", sr.Args(pico, fname)...)
	return fname, run(cli, fname, log.With(zap.String("analyzer", "sigrok")))
}

func run(cli *exec.Cmd, fname string, log *zap.Logger) error {
	cli.Stderr, cli.Stdout = os.Stderr, os.Stdout
	log.Info("capture starting", zap.Strings("args", cli.Args))
	if err := cli.Run(); err != nil {
		return errors.Wrapf(err, "run %s", cli.Path)
	}
	fi, err := os.Stat(fname)
	if err != nil {
		return errors.Wrap(err, "capture output")
	}
	log.Info("capture written", zap.String("file", fname), zap.Int64("size", fi.Size()))
	return nil
}
