// Package seqserial loads instruction streams into the pulse sequencer over
// a serial link.
//
// Every request is a frame
//
//	'P' <kind> <n:uint16 le> <payload> <crc:uint16 le>
//
// where the crc (CRC16-CCITT) covers n and the payload. The sequencer answers
// each frame with a single status byte.
package seqserial

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/gotmc/pulseseq"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Frame kinds.
const (
	KindStream = 'S'
	KindStart  = 'R'
	KindStop   = 'H'
)

// Status bytes sent by the sequencer.
const (
	ACK  = 0x06
	NAK  = 0x15
	Idle = 0x11 // stop requested while not running
)

// MaxWords is the largest stream a single frame can carry.
const MaxWords = 1<<16 - 1

// ErrNAK is returned when the sequencer rejects a frame.
var ErrNAK = errors.New("sequencer rejected frame")

// CRC16 is the CRC16-CCITT used on the link.
func CRC16(buf []byte) uint16 {
	var crc uint16 = 0xffff
	for _, b := range buf {
		data := uint16(b)
		data ^= crc & 0xff
		data ^= (data & 0x0f) << 4
		crc = (crc >> 8) ^ (data << 8) ^ (data << 3) ^ (data >> 4)
	}
	return crc
}

// Frame builds a request frame. n is the word count for stream frames and
// zero for control frames.
func Frame(kind byte, n uint16, payload []byte) []byte {
	out := make([]byte, 0, 6+len(payload))
	out = append(out, 'P', kind)
	out = binary.LittleEndian.AppendUint16(out, n)
	out = append(out, payload...)
	return binary.LittleEndian.AppendUint16(out, CRC16(out[2:]))
}

// Sequencer is a pulseseq.StreamWriter over a byte stream.
type Sequencer struct {
	rw     io.ReadWriter
	limits pulseseq.HardwareLimits
	log    *zap.Logger
	closer io.Closer
}

// Option applies an option to the sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option { return func(s *Sequencer) { s.log = log } }

// WithLimits sets the limits used to encode delays.
func WithLimits(l pulseseq.HardwareLimits) Option { return func(s *Sequencer) { s.limits = l } }

// New creates a sequencer on an already open link.
func New(rw io.ReadWriter, opts ...Option) *Sequencer {
	s := &Sequencer{
		rw:     rw,
		limits: pulseseq.DefaultHardwareLimits(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a serial port at the given baud rate. Reads time out after
// timeout, which bounds the wait for a status byte.
func Open(port string, baud int, timeout time.Duration, opts ...Option) (*Sequencer, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", port)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", port)
	}
	s := New(p, opts...)
	s.closer = p
	return s, nil
}

// Close closes the underlying port, if Open created it.
func (s *Sequencer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Sequencer) exchange(frame []byte) (byte, error) {
	if _, err := s.rw.Write(frame); err != nil {
		return 0, errors.Wrap(err, "write frame")
	}
	var status [1]byte
	n, err := s.rw.Read(status[:])
	if err != nil {
		return 0, errors.Wrap(err, "read status")
	}
	if n == 0 {
		return 0, errors.New("timeout waiting for status")
	}
	s.log.Debug("sequencer frame",
		zap.String("kind", string(frame[1])),
		zap.Int("bytes", len(frame)),
		zap.Uint8("status", status[0]),
	)
	return status[0], nil
}

// WriteInstructionStream encodes and sends stream.
func (s *Sequencer) WriteInstructionStream(stream []pulseseq.Instruction) (pulseseq.Handle, error) {
	if len(stream) > MaxWords {
		return nil, errors.Errorf("stream of %d instructions exceeds %d", len(stream), MaxWords)
	}
	words, err := pulseseq.EncodeProgram(stream, s.limits)
	if err != nil {
		return nil, err
	}
	status, err := s.exchange(Frame(KindStream, uint16(len(stream)), words))
	if err != nil {
		return nil, err
	}
	if status != ACK {
		return nil, errors.Wrapf(ErrNAK, "stream upload, status %#02x", status)
	}
	s.log.Info("stream loaded", zap.Int("instructions", len(stream)))
	return &handle{s: s}, nil
}

type handle struct{ s *Sequencer }

func (h *handle) Start() error {
	status, err := h.s.exchange(Frame(KindStart, 0, nil))
	if err != nil {
		return err
	}
	if status != ACK {
		return errors.Wrapf(ErrNAK, "start, status %#02x", status)
	}
	return nil
}

func (h *handle) Stop() error {
	status, err := h.s.exchange(Frame(KindStop, 0, nil))
	if err != nil {
		return err
	}
	switch status {
	case ACK:
		return nil
	case Idle:
		return errors.WithStack(pulseseq.ErrAlreadyStopped)
	default:
		return errors.Wrapf(ErrNAK, "stop, status %#02x", status)
	}
}
