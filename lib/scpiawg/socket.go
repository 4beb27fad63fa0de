package scpiawg

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Socket is a Transport over a line-oriented stream, typically the raw SCPI
// port (5025) of a LAN instrument.
type Socket struct {
	rw     io.ReadWriter
	r      *bufio.Reader
	eot    byte
	closer io.Closer
}

// NewSocket wraps rw. Replies end at a newline.
func NewSocket(rw io.ReadWriter) *Socket {
	s := &Socket{rw: rw, r: bufio.NewReader(rw), eot: '\n'}
	if c, ok := rw.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Dial connects to the instrument at addr (host:port).
func Dial(addr string, timeout time.Duration) (*Socket, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial awg %s", addr)
	}
	return NewSocket(conn), nil
}

func (s *Socket) Write(p []byte) (int, error) { return s.rw.Write(p) }

// Query sends cmd and returns the reply line with its terminator.
func (s *Socket) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if _, err := fmt.Fprintf(s.rw, "%s\n", cmd); err != nil {
		return "", errors.Wrapf(err, "query %q", cmd)
	}
	reply, err := s.r.ReadString(s.eot)
	if err == io.EOF && reply != "" {
		return reply, nil
	}
	return reply, errors.Wrapf(err, "query %q", cmd)
}

func (s *Socket) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
