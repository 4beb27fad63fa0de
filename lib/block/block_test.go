package block

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte("#13abc"), Encode([]byte("abc")))
	assert.Equal(t, []byte("#10"), Encode(nil))

	data := make([]byte, 1234)
	raw := Encode(data)
	assert.Equal(t, []byte("#41234"), raw[:6])
	assert.Len(t, raw, 6+1234)
}

func TestDecode(t *testing.T) {
	data, rest, err := Decode([]byte("#213hello, world!\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello, world!", string(data))
	assert.Equal(t, "\n", string(rest))

	_, _, err = Decode([]byte("#"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, _, err = Decode([]byte("%13abc"))
	assert.Error(t, err)
	_, _, err = Decode([]byte("#0abc"))
	assert.Error(t, err)
	_, _, err = Decode([]byte("#15abc"))
	assert.Error(t, err)
}

func TestPackUnpack(t *testing.T) {
	codes := []int16{0, 1, -1, 32767, -32768, 0x1234}
	raw := Pack(codes)
	assert.Equal(t, []byte("#212"), raw[:4])
	assert.Equal(t, []byte{0x34, 0x12}, raw[len(raw)-2:])
	got, err := Unpack(raw)
	require.NoError(t, err)
	assert.Equal(t, codes, got)

	_, err = Unpack([]byte("#13abc"))
	assert.Error(t, err)
}

func TestQuantize(t *testing.T) {
	got := Quantize([]float64{0, 0.5, -0.5, 0.25, 1, -2}, 0.5)
	assert.Equal(t, []int16{0, 32767, -32767, 16384, 32767, -32767}, got)
	assert.Equal(t, []int16{0, 0}, Quantize([]float64{0.1, 0.2}, 0))
}
