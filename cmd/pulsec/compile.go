// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/analyzer"
	"github.com/gotmc/pulseseq/lib/cmdlog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// request holds the flags shared by compile and arm.
type request struct {
	sets       []string
	sweep      string
	reps       uint64
	inverted   bool
	continuous bool
	strategy   string
}

func (r *request) AddFlags(fs *pflag.FlagSet) {
	fs.StringArrayVar(&r.sets, "set", nil, "override a parameter, key=value (repeatable)")
	fs.StringVar(&r.sweep, "sweep", "", "compile one point per value, key=v1,v2,...")
	fs.Uint64Var(&r.reps, "reps", 1000, "repetitions of the point set")
	fs.BoolVar(&r.inverted, "inverted", false, "add the inverted readout variant")
	fs.BoolVar(&r.continuous, "continuous", false, "branch back instead of stopping")
	fs.StringVar(&r.strategy, "strategy", "", "readout strategy, gated or clocked (default from config)")
}

// parseSets turns key=value pairs into params.
func parseSets(sets []string) (pulseseq.Params, error) {
	p := make(pulseseq.Params, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("--set %q: want key=value", s)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "--set %q", s)
		}
		p[k] = f
	}
	return p, nil
}

// parseSweep splits key=v1,v2,... into its key and values.
func parseSweep(s string) (string, []float64, error) {
	k, vs, ok := strings.Cut(s, "=")
	if !ok || k == "" || vs == "" {
		return "", nil, errors.Errorf("--sweep %q: want key=v1,v2,...", s)
	}
	var out []float64
	for _, v := range strings.Split(vs, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "", nil, errors.Wrapf(err, "--sweep %q", s)
		}
		out = append(out, f)
	}
	return k, out, nil
}

// build resolves id and returns its compiler and request.
func (r *request) build(id string) (*pulseseq.Compiler, pulseseq.ReadoutRequest, error) {
	var req pulseseq.ReadoutRequest
	e, err := registry.Resolve(id)
	if err != nil {
		return nil, req, err
	}
	overrides, err := parseSets(r.sets)
	if err != nil {
		return nil, req, err
	}
	base := e.Defaults.With(overrides)
	points := []pulseseq.Params{base}
	if r.sweep != "" {
		key, values, err := parseSweep(r.sweep)
		if err != nil {
			return nil, req, err
		}
		points = points[:0]
		for _, v := range values {
			points = append(points, base.With(pulseseq.Params{key: v}))
		}
	}

	opts, err := cfg.CompilerOptions()
	if err != nil {
		return nil, req, err
	}
	opts = append(opts, pulseseq.WithLogger(logger.Named("compiler")))
	if r.strategy != "" {
		s, err := pulseseq.ParseStrategy(r.strategy)
		if err != nil {
			return nil, req, err
		}
		opts = append(opts, pulseseq.WithStrategy(s))
	}
	c, err := pulseseq.NewCompiler(opts...)
	if err != nil {
		return nil, req, err
	}
	req = pulseseq.ReadoutRequest{
		Name:       e.ID,
		Program:    e.Program,
		Points:     points,
		Reps:       r.reps,
		Inverted:   r.inverted,
		Continuous: r.continuous,
	}
	return c, req, nil
}

var (
	compileReq   request
	showTimeline bool
	timelineMax  int
	showWaves    bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <program>",
	Short: "Compile a program and print its listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, req, err := compileReq.build(args[0])
		if err != nil {
			return err
		}
		prog, err := c.Compile(req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cmdlog.Listing(prog, c.Flags()))
		if showWaves {
			fmt.Fprintln(out, cmdlog.Waveforms(prog))
		}
		if showTimeline {
			edges, _, err := analyzer.Timeline(prog, c.Flags(), 0)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cmdlog.Timeline(edges, timelineMax))
		}
		return nil
	},
}

func init() {
	compileReq.AddFlags(compileCmd.Flags())
	compileCmd.Flags().BoolVar(&showTimeline, "timeline", false, "print the flag edge timeline")
	compileCmd.Flags().IntVar(&timelineMax, "timeline-max", 200, "edges to print, 0 for all")
	compileCmd.Flags().BoolVar(&showWaves, "waveforms", false, "print the waveform summary")
}
