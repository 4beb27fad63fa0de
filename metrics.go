// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pulseseq"

var (
	compileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "compile_total",
		Help:      "Total number of compilations by program and result.",
	}, []string{"program", "result"})

	compileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "compile_duration_seconds",
		Help:      "Wall time spent compiling a program.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"program"})

	instructionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "instructions",
		Help:      "Number of instructions of the last compiled program.",
	}, []string{"program"})

	waveformSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "waveform_samples_total",
		Help:      "Native AWG samples produced by channel.",
	}, []string{"channel"})
)

func observeCompile(program string, seconds float64, prog *CompiledProgram, err error) {
	if program == "" {
		program = "anonymous"
	}
	compileDuration.WithLabelValues(program).Observe(seconds)
	if err != nil {
		compileTotal.WithLabelValues(program, "error").Inc()
		return
	}
	compileTotal.WithLabelValues(program, "ok").Inc()
	instructionCount.WithLabelValues(program).Set(float64(len(prog.Instructions)))
	for _, w := range prog.Waveforms {
		waveformSamples.WithLabelValues(strconv.Itoa(int(w.Channel))).Add(float64(len(w.I)))
	}
}
