// Package block encodes and decodes IEEE 488.2 definite length arbitrary
// blocks, the framing SCPI instruments use for binary sample data.
package block

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// maxDigits is the largest length-of-length a block header can carry.
const maxDigits = 9

// Encode frames data as #<n><len><data>.
func Encode(data []byte) []byte {
	size := strconv.Itoa(len(data))
	out := make([]byte, 0, 2+len(size)+len(data))
	out = append(out, '#', byte('0'+len(size)))
	out = append(out, size...)
	return append(out, data...)
}

// Decode returns the payload of the block at the start of raw and whatever
// follows it, typically the message terminator.
func Decode(raw []byte) (data, rest []byte, err error) {
	if len(raw) < 2 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	if raw[0] != '#' {
		return nil, nil, errors.Errorf("invalid header: want # got %q", raw[0])
	}
	digits := int(raw[1] - '0')
	if digits < 1 || digits > maxDigits {
		// #0 is the indefinite form, which has no length to check.
		return nil, nil, errors.Errorf("invalid length digit %q", raw[1])
	}
	if len(raw) < 2+digits {
		return nil, nil, io.ErrUnexpectedEOF
	}
	size, err := strconv.Atoi(string(raw[2 : 2+digits]))
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid block length")
	}
	start := 2 + digits
	if len(raw) < start+size {
		return nil, nil, errors.Errorf("invalid length: expect %d data bytes, got %d", size, len(raw)-start)
	}
	return raw[start : start+size], raw[start+size:], nil
}

// Pack converts DAC codes to a block of little-endian int16 words.
func Pack(codes []int16) []byte {
	data := make([]byte, 2*len(codes))
	for i, c := range codes {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(c))
	}
	return Encode(data)
}

// Unpack is the inverse of Pack.
func Unpack(raw []byte) ([]int16, error) {
	data, _, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, errors.Errorf("odd payload of %d bytes", len(data))
	}
	codes := make([]int16, len(data)/2)
	for i := range codes {
		codes[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return codes, nil
}

// Quantize maps volts in [-fullScale, fullScale] onto int16 DAC codes,
// clamping values outside the window.
func Quantize(volts []float64, fullScale float64) []int16 {
	codes := make([]int16, len(volts))
	if fullScale <= 0 {
		return codes
	}
	for i, v := range volts {
		x := v / fullScale * 32767
		switch {
		case x > 32767:
			x = 32767
		case x < -32767:
			x = -32767
		}
		if x >= 0 {
			codes[i] = int16(x + 0.5)
		} else {
			codes[i] = int16(x - 0.5)
		}
	}
	return codes
}
