// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/analyzer"
	"github.com/gotmc/pulseseq/lib/config"
	"github.com/gotmc/pulseseq/lib/connutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	armReq      request
	conn        connutil.Conn
	capture     analyzer.CaptureConfig
	analyzerTyp string
	metricsAddr string
	poll        time.Duration
)

var armCmd = &cobra.Command{
	Use:   "arm <program>",
	Short: "Compile a program, load it into the hardware and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		c, req, err := armReq.build(args[0])
		if err != nil {
			return err
		}
		prog, err := c.Compile(req)
		if err != nil {
			return err
		}

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				logger.Error("metrics server stopped", zap.Error(http.ListenAndServe(metricsAddr, mux)))
			}()
		}

		conn.ApplyConfig(cmd.Flags(), cfg.Devices)
		dev, cleanup, err := conn.Setup(c.Limits(), logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, cleanup()) }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var record func(context.Context) error
		on, err := capture.Enabled()
		if err != nil {
			return err
		}
		if on {
			if len(capture.Channels) == 0 {
				capture.Channels = analyzer.SequencerChannels(c.Flags())
			}
			la, err := analyzer.New(analyzerTyp, capture)
			if err != nil {
				return err
			}
			record = func(ctx context.Context) error {
				_, err := la.Capture(ctx, logger)
				return err
			}
		}

		logger.Info("arming",
			zap.String("program", req.Name),
			zap.Int("instructions", len(prog.Instructions)),
			zap.Int("waveforms", len(prog.Waveforms)),
			zap.Float64("duration_ns", prog.TotalDuration))
		return runCaptured(ctx, record, func(ctx context.Context) error {
			err := pulseseq.Run(ctx, dev, prog, poll, logger)
			if errors.Is(err, context.Canceled) {
				logger.Info("interrupted")
				return nil
			}
			return err
		})
	},
}

// runCaptured runs record alongside run. When run fails the capture is
// cancelled rather than waited for. record may be nil.
func runCaptured(ctx context.Context, record, run func(context.Context) error) error {
	capCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	captured := make(chan error, 1)
	if record == nil {
		captured <- nil
	} else {
		go func() { captured <- record(capCtx) }()
	}
	runErr := run(ctx)
	if runErr != nil {
		cancel()
	}
	capErr := <-captured
	if runErr != nil && errors.Is(capErr, context.Canceled) {
		capErr = nil
	}
	return multierr.Append(runErr, capErr)
}

func init() {
	fs := armCmd.Flags()
	armReq.AddFlags(fs)
	conn.AddFlags(fs, config.DeviceConfig{})
	capture.AddFlags(fs)
	fs.StringVar(&analyzerTyp, "analyzer", "sigrok", "logic analyzer backend, sigrok or gusmanb")
	fs.StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	fs.DurationVar(&poll, "poll", 100*time.Millisecond, "run loop poll interval")
}
