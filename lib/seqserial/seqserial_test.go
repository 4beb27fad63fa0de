package seqserial

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gotmc/pulseseq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type link struct {
	sent    bytes.Buffer
	replies []byte
}

func (l *link) Write(p []byte) (int, error) { return l.sent.Write(p) }

func (l *link) Read(p []byte) (int, error) {
	if len(l.replies) == 0 {
		return 0, nil
	}
	p[0] = l.replies[0]
	l.replies = l.replies[1:]
	return 1, nil
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x6f91), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0xffff), CRC16(nil))
}

func TestFrame(t *testing.T) {
	f := Frame(KindStart, 0, nil)
	require.Len(t, f, 6)
	assert.Equal(t, []byte{'P', 'R', 0, 0}, f[:4])
	assert.Equal(t, CRC16([]byte{0, 0}), binary.LittleEndian.Uint16(f[4:]))
}

func stream() []pulseseq.Instruction {
	return []pulseseq.Instruction{
		{Flags: 1, Opcode: pulseseq.Continue, Duration: 100},
		{Opcode: pulseseq.Stop, Duration: 10},
	}
}

func TestWriteInstructionStream(t *testing.T) {
	l := &link{replies: []byte{ACK, ACK, Idle}}
	s := New(l)
	h, err := s.WriteInstructionStream(stream())
	require.NoError(t, err)

	sent := l.sent.Bytes()
	require.Len(t, sent, 6+2*pulseseq.WordSize)
	assert.Equal(t, []byte{'P', 'S', 2, 0}, sent[:4])
	words, err := pulseseq.EncodeProgram(stream(), pulseseq.DefaultHardwareLimits())
	require.NoError(t, err)
	assert.Equal(t, words, sent[4:4+len(words)])
	assert.Equal(t, CRC16(sent[2:len(sent)-2]), binary.LittleEndian.Uint16(sent[len(sent)-2:]))

	require.NoError(t, h.Start())
	err = h.Stop()
	assert.ErrorIs(t, err, pulseseq.ErrAlreadyStopped)
}

func TestWriteInstructionStreamRejected(t *testing.T) {
	s := New(&link{replies: []byte{NAK}})
	_, err := s.WriteInstructionStream(stream())
	assert.ErrorIs(t, err, ErrNAK)

	s = New(&link{})
	_, err = s.WriteInstructionStream(stream())
	assert.Error(t, err, "no status byte before the read timeout")
}

func TestWriteInstructionStreamEncodeError(t *testing.T) {
	l := &link{replies: []byte{ACK}}
	_, err := New(l).WriteInstructionStream([]pulseseq.Instruction{{Duration: 4}})
	assert.ErrorIs(t, err, pulseseq.ErrDurationTooShort)
	assert.Zero(t, l.sent.Len())
}
