package analyzer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gotmc/pulseseq/lib/find"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// GusmanB captures with the CLCapture tool of the gusmanb LogicAnalyzer.
type GusmanB struct {
	CaptureConfig
	// CLI is the CLCapture executable, looked up in PATH when relative.
	CLI string
	// Trigger is the channel whose rising edge starts the capture.
	Trigger int
}

func (c Channels) GBArgs() string {
	if c == nil {
		return ""
	}
	cs := make([]string, 0, len(c))
	for _, ch := range c {
		if len(ch[1]) == 0 {
			cs = append(cs, ch[0])
		} else {
			cs = append(cs, fmt.Sprintf("%s:%s", ch[0], ch[1]))
		}
	}
	return strings.Join(cs, ",")
}

// Renumber returns c with channels numbered from 1, the way CLCapture
// names its inputs.
func (c Channels) Renumber() Channels {
	out := make(Channels, len(c))
	for i, ch := range c {
		out[i] = Channel{strconv.Itoa(i + 1), ch[1]}
	}
	return out
}

func (gb *GusmanB) Args(tty, fname string) []string {
	trigger := gb.Trigger
	if trigger == 0 {
		trigger = 1
	}
	return []string{
		"capture",
		tty,
		strconv.FormatUint(gb.Rate, 10),
		gb.Channels.Renumber().GBArgs(),
		"2", // pre-trigger samples
		strconv.FormatUint(gb.Samples, 10),
		fmt.Sprintf("TriggerType:Edge,Channel:%d,Value:1", trigger),
		fname,
	}
}

func (gb *GusmanB) Capture(ctx context.Context, log *zap.Logger) (string, error) {
	pico, err := find.Find(find.PiPicoFilter)
	if err != nil {
		return "", errors.Wrap(err, "gusmanb")
	}
	if !strings.HasPrefix(pico, "/") {
		pico = "/dev/" + pico
	}
	bin := gb.CLI
	if bin == "" {
		bin = "CLCapture"
	}
	fname := gb.filename("gb_out", ".lac")
	cli := exec.CommandContext(ctx, bin, gb.Args(pico, fname)...)
	return fname, run(cli, fname, log.With(zap.String("analyzer", "gusmanb")))
}

// Capturer is a logic analyzer backend.
type Capturer interface {
	Capture(ctx context.Context, log *zap.Logger) (string, error)
}

// New returns the backend named kind, "sigrok" or "gusmanb".
func New(kind string, cc CaptureConfig) (Capturer, error) {
	switch kind {
	case "sigrok", "":
		return &Sigrok{cc}, nil
	case "gusmanb":
		return &GusmanB{CaptureConfig: cc}, nil
	}
	return nil, errors.Errorf("unknown analyzer %q", kind)
}
