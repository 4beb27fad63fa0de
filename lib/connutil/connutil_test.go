package connutil

import (
	"strings"
	"testing"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/gotmc/pulseseq/lib/config"
	"github.com/gotmc/pulseseq/lib/scpiawg"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlags(t *testing.T) {
	var c Conn
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs, config.DeviceConfig{AWGAddress: "10.0.0.5:5025"})
	require.NoError(t, fs.Parse([]string{"--port", "/dev/ttyUSB1", "--trace"}))

	assert.Equal(t, "/dev/ttyUSB1", c.SerialPort)
	assert.Equal(t, 115200, c.Baud)
	assert.Equal(t, 2*time.Second, c.Timeout)
	assert.Equal(t, "10.0.0.5:5025", c.AWGAddress)
	assert.True(t, c.Trace)
}

func TestApplyConfig(t *testing.T) {
	var c Conn
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs, config.DeviceConfig{})
	require.NoError(t, fs.Parse([]string{"--baud", "9600"}))

	c.ApplyConfig(fs, config.DeviceConfig{SequencerPort: "/dev/ttyUSB0", Baud: 57600, AWGAddress: "awg:5025"})
	assert.Equal(t, "/dev/ttyUSB0", c.SerialPort)
	assert.Equal(t, 9600, c.Baud, "flags win over the config")
	assert.Equal(t, "awg:5025", c.AWGAddress)
}

func TestNoAWG(t *testing.T) {
	var w pulseseq.WaveformCommitter = noAWG{}
	assert.ErrorIs(t, w.WriteWaveform(pulseseq.Waveform{}), ErrNoAWG)
	assert.NoError(t, w.Commit())
}

type instrument struct{ strings.Builder }

func (i *instrument) Query(cmd string) (string, error) {
	if cmd == "*OPC?" {
		return "1", nil
	}
	return "+0,\"No error\"", nil
}

func TestArmedAWGEnablesAfterCommit(t *testing.T) {
	inst := &instrument{}
	awg := armedAWG{scpiawg.New(inst)}
	w := pulseseq.Waveform{Pass: 0, I: []float64{0, 0.5}, Q: []float64{0, 0}, SampleRate: 5e8,
		IRange: pulseseq.Range{Max: 0.5}}
	require.NoError(t, awg.WriteWaveform(w))
	assert.Zero(t, inst.Len(), "outputs stay off until every pass is written")
	require.NoError(t, awg.Commit())

	lines := strings.Split(strings.TrimSuffix(inst.String(), "\n"), "\n")
	assert.Equal(t, []string{"OUTP1 ON", "OUTP2 ON"}, lines[len(lines)-2:])
	assert.Contains(t, inst.String(), "SOUR1:FUNC:ARB SEQ1")
}
