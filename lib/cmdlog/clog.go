// Package cmdlog renders compiled programs and instrument traffic for humans.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/analyzer"
	"github.com/gotmc/pulseseq/lib/scpiawg"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// Listing renders the instruction stream of prog as a table with decoded
// flag symbols. Control instructions are highlighted.
func Listing(prog *pulseseq.CompiledProgram, enc pulseseq.FlagEncoder) string {
	if enc == nil {
		enc = pulseseq.BuiltinFlags()
	}
	tw := table.NewWriter()
	tw.SetTitle("Instructions")
	tw.AppendHeader(table.Row{"#", "Op", "Operand", "Duration (ns)", "Mask", "Flags"})
	for i, ins := range prog.Instructions {
		op := ins.Opcode.String()
		if ins.Opcode != pulseseq.Continue {
			op = CmdStyle.Render(op)
		}
		operand := ""
		if ins.Opcode != pulseseq.Continue && ins.Opcode != pulseseq.Stop {
			operand = fmt.Sprint(ins.Operand)
		}
		tw.AppendRow(table.Row{
			i, op, operand, ins.Duration,
			ins.Flags.String(),
			strings.Join(enc.Decode(ins.Flags), " "),
		})
	}
	end := "stop"
	if prog.Continuous {
		end = "branch"
	}
	tw.AppendFooter(table.Row{"", "", "", prog.TotalDuration, "", end})
	return tw.Render()
}

// Waveforms renders one row per compiled waveform.
func Waveforms(prog *pulseseq.CompiledProgram) string {
	tw := table.NewWriter()
	tw.SetTitle("Waveforms")
	tw.AppendHeader(table.Row{"Pass", "Channel", "Samples", "Rate (S/s)", "I (V)", "Q (V)", "DC"})
	for _, w := range prog.Waveforms {
		tw.AppendRow(table.Row{
			w.Pass, w.Channel, len(w.I), w.SampleRate,
			fmt.Sprintf("%.3f..%.3f", w.IRange.Min, w.IRange.Max),
			fmt.Sprintf("%.3f..%.3f", w.QRange.Min, w.QRange.Max),
			w.DC,
		})
	}
	return tw.Render()
}

// Timeline renders at most limit edges. Rising edges use R2Style and falling
// edges R1Style.
func Timeline(edges []analyzer.Edge, limit int) string {
	tw := table.NewWriter()
	tw.SetTitle("Timeline")
	tw.AppendHeader(table.Row{"Time (ns)", "Symbol", "Edge"})
	for i, e := range edges {
		if limit > 0 && i == limit {
			tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d more", len(edges)-limit)})
			break
		}
		edge := R1Style.Render("fall")
		if e.Active {
			edge = R2Style.Render("rise")
		}
		tw.AppendRow(table.Row{e.Time, e.Symbol, edge})
	}
	return tw.Render()
}

type tracer struct {
	t   scpiawg.Transport
	log *zap.Logger
}

// Trace wraps t so every command and reply is logged at debug level.
func Trace(t scpiawg.Transport, log *zap.Logger) scpiawg.Transport {
	return &tracer{t: t, log: log}
}

func (tr *tracer) Write(p []byte) (int, error) {
	n, err := tr.t.Write(p)
	s := strings.TrimSuffix(string(p), "\n")
	if err != nil {
		tr.log.Debug("write failed", zap.String("cmd", CmdStyle.Render(preview(s))), zap.Error(err))
	} else {
		tr.log.Debug(CmdStyle.Render(preview(s)))
	}
	return n, err
}

func (tr *tracer) Query(q string) (string, error) {
	a, err := tr.t.Query(q)
	q = CmdStyle.Render(q)
	if err != nil {
		tr.log.Debug("query failed", zap.String("cmd", q), zap.Error(err))
		return a, err
	}
	a = strings.TrimSuffix(a, "\n")
	if len(a) == 0 {
		tr.log.Debug(q, zap.String("reply", R1Style.Render("<no response>")))
	} else {
		tr.log.Debug(q, zap.String("reply", R2Style.Render(preview(a))))
	}
	return a, nil
}

// preview quotes printable text and shows binary data as hex.
func preview(s string) string {
	switch {
	case isAscii(s):
		return fmt.Sprintf("[%d] %q", len(s), s)
	case len(s) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(s), s, []byte(s))
	default:
		return fmt.Sprintf("[%d] % 2x ...", len(s), []byte(s[:32]))
	}
}
