// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package pulseseq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinFlags(t *testing.T) {
	enc := BuiltinFlags()
	none, err := enc.Encode()
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0), none)

	mw1, err := enc.Encode(FlagMW1)
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0x10), mw1)
	assert.NotEqual(t, none, mw1)

	ctr, err := enc.Encode("ctr")
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0x6), ctr)

	laser, err := enc.Encode(FlagLaserCW, "illumination")
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0), laser)

	_, err = enc.Encode("bogus")
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestBuiltinFlagsOrderIndependent(t *testing.T) {
	enc := BuiltinFlags()
	a, err := enc.Encode(FlagAOM, FlagCounter0, FlagAWGTrigger)
	require.NoError(t, err)
	b, err := enc.Encode(FlagAWGTrigger, FlagAOM, FlagCounter0, FlagAOM)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{FlagAOM, FlagCounter0, FlagAWGTrigger}, enc.Decode(a))
}

func TestBuiltinDecodeNamesLines(t *testing.T) {
	enc := BuiltinFlags()
	for _, s := range builtinSingle {
		mask, err := enc.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, []string{s}, enc.Decode(mask), s)
	}
	for alias, lines := range map[string][]string{
		"ctr": {FlagCounter0, FlagCounter1},
		"mw":  {FlagMW0, FlagMW1},
	} {
		mask, err := enc.Encode(alias)
		require.NoError(t, err)
		assert.Equal(t, lines, enc.Decode(mask), alias)
	}
	laser, err := enc.Encode(FlagLaserCW)
	require.NoError(t, err)
	assert.Empty(t, enc.Decode(laser))
}

func testTable(t *testing.T) *FlagTable {
	t.Helper()
	tbl, err := NewFlagTable([]FlagRow{
		{Bit: 3, Symbol: "mw"},
		{Bit: 0, Symbol: "aom"},
		{Bit: 1, Symbol: "ctr0", Invert: true},
		{Bit: 23, Symbol: "camera"},
	})
	require.NoError(t, err)
	return tbl
}

func TestFlagTableInvert(t *testing.T) {
	tbl := testTable(t)
	idle, err := tbl.Encode()
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0x2), idle)

	gate, err := tbl.Encode("ctr0")
	require.NoError(t, err)
	assert.Equal(t, Bitmask(0), gate)

	all, err := tbl.Encode("aom", "mw", "camera")
	require.NoError(t, err)
	assert.Equal(t, Bitmask(1|1<<3|1<<23|1<<1), all)

	_, err = tbl.Encode("awg0")
	assert.ErrorIs(t, err, ErrUnknownFlag)
	assert.Equal(t, []string{"aom", "ctr0", "mw", "camera"}, tbl.Symbols())
}

func TestFlagTableRoundTrip(t *testing.T) {
	tbl := testTable(t)
	symbols := tbl.Symbols()
	for set := 0; set < 1<<len(symbols); set++ {
		var in []string
		for i, s := range symbols {
			if set&(1<<i) != 0 {
				in = append(in, s)
			}
		}
		mask, err := tbl.Encode(in...)
		require.NoError(t, err)
		assert.Equal(t, in, tbl.Decode(mask), "set %b", set)
	}
}

func TestNewFlagTableRejects(t *testing.T) {
	cases := map[string][]FlagRow{
		"duplicate bit":    {{Bit: 1, Symbol: "a"}, {Bit: 1, Symbol: "b"}},
		"duplicate symbol": {{Bit: 1, Symbol: "a"}, {Bit: 2, Symbol: "a"}},
		"bit out of range": {{Bit: 24, Symbol: "a"}},
		"empty symbol":     {{Bit: 0}},
	}
	for name, rows := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewFlagTable(rows)
			assert.Error(t, err)
		})
	}
}
