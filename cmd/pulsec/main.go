// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command pulsec compiles the stock pulse programs and arms them on the
// sequencer and AWG.
package main

import (
	"fmt"
	"os"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/config"
	"github.com/gotmc/pulseseq/lib/recipes"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool

	cfg      *config.Config
	logger   = zap.NewNop()
	registry *pulseseq.Registry
)

var rootCmd = &cobra.Command{
	Use:   "pulsec",
	Short: "Pulse sequence compiler",
	Long: `pulsec compiles pulse programs wrapped in the readout template into a
sequencer instruction stream and the matching AWG waveforms.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath == "" {
			cfg = config.Default()
		} else if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		log, closer, err := cfg.CreateLogger(debug)
		if err != nil {
			return err
		}
		logger = log
		atexit.Register(func() {
			_ = logger.Sync()
			_ = closer.Close()
		})
		registry, err = recipes.NewRegistry()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.AddCommand(listCmd, compileCmd, armCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
