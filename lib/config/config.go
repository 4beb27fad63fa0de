// Package config loads the pulsec YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type HardwareConfig struct {
	// Sequencer core clock in MHz.
	ClockMHz float64 `yaml:"clockMHz"`
	// Shortest instruction in ns.
	MinInstructionNs float64 `yaml:"minInstructionNs"`
	// Largest LOOP repeat count.
	MaxLoopRepeat uint32 `yaml:"maxLoopRepeat"`
	// Clock cycles of latency the sequencer adds to every instruction.
	DelayOffset uint32 `yaml:"delayOffset"`
}

// WithDefaults returns a copy of the HardwareConfig with any missing fields
// set to their default values.
func (c HardwareConfig) WithDefaults() HardwareConfig {
	cpy := c
	def := pulseseq.DefaultHardwareLimits()
	if cpy.ClockMHz == 0 {
		cpy.ClockMHz = def.ClockMHz
	}
	if cpy.MinInstructionNs == 0 {
		cpy.MinInstructionNs = def.MinInstructionNs
	}
	if cpy.MaxLoopRepeat == 0 {
		cpy.MaxLoopRepeat = def.MaxLoopRepeat
	}
	if cpy.DelayOffset == 0 {
		cpy.DelayOffset = def.DelayOffset
	}
	return cpy
}

func (c HardwareConfig) Limits() pulseseq.HardwareLimits {
	return pulseseq.HardwareLimits{
		ClockMHz:         c.ClockMHz,
		MinInstructionNs: c.MinInstructionNs,
		MaxLoopRepeat:    c.MaxLoopRepeat,
		DelayOffset:      c.DelayOffset,
	}
}

type AWGConfig struct {
	// Disabled turns off waveform generation entirely.
	Disabled         bool    `yaml:"disabled"`
	Channels         int     `yaml:"channels"`
	VirtualRate      float64 `yaml:"virtualRate"`
	SampleRate       float64 `yaml:"sampleRate"`
	AmplitudeVolts   float64 `yaml:"amplitudeVolts"`
	PreEdgeNs        int     `yaml:"preEdgeNs"`
	PostEdgeNs       int     `yaml:"postEdgeNs"`
	ExtraPreDelayNs  int     `yaml:"extraPreDelayNs"`
	LeadInNs         int     `yaml:"leadInNs"`
	FinalTailSamples int     `yaml:"finalTailSamples"`
}

// WithDefaults returns a copy of the AWGConfig with any missing fields set to
// their default values.
func (c AWGConfig) WithDefaults() AWGConfig {
	cpy := c
	def := pulseseq.DefaultAWGConfig()
	if cpy.Channels == 0 {
		cpy.Channels = def.Channels
	}
	if cpy.VirtualRate == 0 {
		cpy.VirtualRate = def.VirtualRate
	}
	if cpy.SampleRate == 0 {
		cpy.SampleRate = def.SampleRate
	}
	if cpy.AmplitudeVolts == 0 {
		cpy.AmplitudeVolts = def.AmplitudeVolts
	}
	if cpy.PreEdgeNs == 0 {
		cpy.PreEdgeNs = def.PreEdgeNs
	}
	if cpy.PostEdgeNs == 0 {
		cpy.PostEdgeNs = def.PostEdgeNs
	}
	if cpy.LeadInNs == 0 {
		cpy.LeadInNs = def.LeadInNs
	}
	if cpy.FinalTailSamples == 0 {
		cpy.FinalTailSamples = def.FinalTailSamples
	}
	return cpy
}

func (c AWGConfig) AWG() pulseseq.AWGConfig {
	if c.Disabled {
		return pulseseq.AWGConfig{}
	}
	return pulseseq.AWGConfig{
		Channels:         c.Channels,
		VirtualRate:      c.VirtualRate,
		SampleRate:       c.SampleRate,
		AmplitudeVolts:   c.AmplitudeVolts,
		PreEdgeNs:        c.PreEdgeNs,
		PostEdgeNs:       c.PostEdgeNs,
		ExtraPreDelayNs:  c.ExtraPreDelayNs,
		LeadInNs:         c.LeadInNs,
		FinalTailSamples: c.FinalTailSamples,
	}
}

type ReadoutConfig struct {
	InitIllumination float64 `yaml:"initIllumination"`
	AOMDelay         float64 `yaml:"aomDelay"`
	MinDark          float64 `yaml:"minDark"`
	GateWindow       float64 `yaml:"gateWindow"`
	GateSeparation   float64 `yaml:"gateSeparation"`
	Gates            int     `yaml:"gates"`
	Repolarize       float64 `yaml:"repolarize"`
	Cleanup          float64 `yaml:"cleanup"`
	TriggerWidth     float64 `yaml:"triggerWidth"`
	InnerLoopSize    uint32  `yaml:"innerLoopSize"`
	// Options: "gated", "clocked".
	Strategy string `yaml:"strategy"`
}

// WithDefaults returns a copy of the ReadoutConfig with any missing fields
// set to their default values.
func (c ReadoutConfig) WithDefaults() ReadoutConfig {
	cpy := c
	def := pulseseq.DefaultReadoutParams()
	fill := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	fill(&cpy.InitIllumination, def.InitIllumination)
	fill(&cpy.AOMDelay, def.AOMDelay)
	fill(&cpy.MinDark, def.MinDark)
	fill(&cpy.GateWindow, def.GateWindow)
	fill(&cpy.GateSeparation, def.GateSeparation)
	fill(&cpy.Repolarize, def.Repolarize)
	fill(&cpy.Cleanup, def.Cleanup)
	fill(&cpy.TriggerWidth, def.TriggerWidth)
	if cpy.Gates == 0 {
		cpy.Gates = def.Gates
	}
	if cpy.InnerLoopSize == 0 {
		cpy.InnerLoopSize = def.InnerLoopSize
	}
	if cpy.Strategy == "" {
		cpy.Strategy = pulseseq.Gated.String()
	}
	return cpy
}

func (c ReadoutConfig) Params() pulseseq.ReadoutParams {
	return pulseseq.ReadoutParams{
		InitIllumination: c.InitIllumination,
		AOMDelay:         c.AOMDelay,
		MinDark:          c.MinDark,
		GateWindow:       c.GateWindow,
		GateSeparation:   c.GateSeparation,
		Gates:            c.Gates,
		Repolarize:       c.Repolarize,
		Cleanup:          c.Cleanup,
		TriggerWidth:     c.TriggerWidth,
		InnerLoopSize:    c.InnerLoopSize,
	}
}

type DeviceConfig struct {
	// Serial port of the sequencer. Empty selects the first port matching
	// the sequencer's usb ids.
	SequencerPort string        `yaml:"sequencerPort"`
	Baud          int           `yaml:"baud"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	// host:port of the AWG's raw SCPI socket.
	AWGAddress string `yaml:"awgAddress"`
}

// WithDefaults returns a copy of the DeviceConfig with any missing fields set
// to their default values.
func (c DeviceConfig) WithDefaults() DeviceConfig {
	cpy := c
	if cpy.Baud == 0 {
		cpy.Baud = 115200
	}
	if cpy.ReadTimeout == 0 {
		cpy.ReadTimeout = 2 * time.Second
	}
	return cpy
}

type Config struct {
	Hardware HardwareConfig     `yaml:"hardware"`
	AWG      AWGConfig          `yaml:"awg"`
	Readout  ReadoutConfig      `yaml:"readout"`
	Devices  DeviceConfig       `yaml:"devices"`
	Flags    []pulseseq.FlagRow `yaml:"flags"`
	Logger   *LogConfig         `yaml:"log"`
}

// WithDefaults returns a copy of the Config with every section defaulted.
func (c Config) WithDefaults() Config {
	cpy := c
	cpy.Hardware = cpy.Hardware.WithDefaults()
	cpy.AWG = cpy.AWG.WithDefaults()
	cpy.Readout = cpy.Readout.WithDefaults()
	cpy.Devices = cpy.Devices.WithDefaults()
	if cpy.Logger != nil {
		l := cpy.Logger.WithDefaults()
		cpy.Logger = &l
	}
	return cpy
}

// Default returns the built-in configuration.
func Default() *Config {
	c := Config{}.WithDefaults()
	return &c
}

// Load reads and defaults the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return Parse(raw)
}

// Parse decodes and defaults a YAML document.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	c = c.WithDefaults()
	return &c, nil
}

// FlagEncoder returns the configured flag table, or the built-in assignment
// when the config has none.
func (c *Config) FlagEncoder() (pulseseq.FlagEncoder, error) {
	if len(c.Flags) == 0 {
		return pulseseq.BuiltinFlags(), nil
	}
	t, err := pulseseq.NewFlagTable(c.Flags)
	if err != nil {
		return nil, errors.Wrap(err, "flags")
	}
	return t, nil
}

// CompilerOptions turns the config into compiler options.
func (c *Config) CompilerOptions() ([]pulseseq.CompilerOption, error) {
	enc, err := c.FlagEncoder()
	if err != nil {
		return nil, err
	}
	strategy, err := pulseseq.ParseStrategy(c.Readout.Strategy)
	if err != nil {
		return nil, errors.Wrap(err, "readout")
	}
	return []pulseseq.CompilerOption{
		pulseseq.WithFlags(enc),
		pulseseq.WithLimits(c.Hardware.Limits()),
		pulseseq.WithAWG(c.AWG.AWG()),
		pulseseq.WithReadout(c.Readout.Params()),
		pulseseq.WithStrategy(strategy),
	}, nil
}
