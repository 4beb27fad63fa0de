// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ParamVariant is set by the readout template to 0 for the signal pass and
// to 1 for the reference pass of an inverted sweep.
const ParamVariant = "variant"

// Sequencer is what a PulseProgram sees of the compiler. Durations are in ns.
type Sequencer interface {
	// Pulse emits a CONTINUE with the given flags active.
	Pulse(duration float64, flags ...string) error
	// Analog emits a CONTINUE and plays the given I/Q values for its whole
	// duration. The awg<N> flag of every non-zero channel is added.
	Analog(values map[ChannelID]IQ, duration float64, flags ...string) error
	// Wait emits a CONTINUE with every line off.
	Wait(duration float64) error
}

// PulseProgram writes the experiment specific part of one repetition.
type PulseProgram func(seq Sequencer, p Params) error

// Params is the numeric parameter table handed to a PulseProgram.
type Params map[string]float64

// Float returns the named parameter.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, newError(ErrMissingParam, -1, "%q", key)
	}
	return v, nil
}

// Bool returns the named parameter as a boolean; any non-zero value is true.
func (p Params) Bool(key string) (bool, error) {
	v, err := p.Float(key)
	if err != nil {
		return false, err
	}
	return v != 0 && !math.IsNaN(v), nil
}

// With returns a copy of p with overrides applied.
func (p Params) With(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entry is a registered program with its default parameters.
type Entry struct {
	ID       string
	Defaults Params
	Program  PulseProgram
}

// Registry maps program ids to programs. Register all programs before
// handing the registry to concurrent users.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a program. Ids must be unique.
func (r *Registry) Register(id string, defaults Params, fn PulseProgram) error {
	if id == "" {
		return errors.New("registry: empty program id")
	}
	if fn == nil {
		return errors.Errorf("registry: nil program %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return errors.Errorf("registry: program %q registered twice", id)
	}
	r.entries[id] = Entry{ID: id, Defaults: Params(nil).With(defaults), Program: fn}
	return nil
}

// Resolve looks up a program. The returned defaults are a private copy.
func (r *Registry) Resolve(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, newError(ErrUnknownProgram, -1, "%q", id)
	}
	e.Defaults = e.Defaults.With(nil)
	return e, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
