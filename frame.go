package stripd

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"
)

// UART wire format: [0xAA][len_lo][len_hi][opcode][args...][0x55].
// The length field counts opcode + args, little-endian.
const (
	frameStart = 0xAA
	frameEnd   = 0x55

	// MaxPayload is the largest legal frame payload: one opcode byte plus a
	// full SET_ALL body at maximum capacity.
	MaxPayload = 1 + MaxTotalLEDs*3
)

// Response codes carried in the first payload byte of a response frame.
const (
	RespOK     = 0x00
	RespError  = 0x01
	RespStatus = 0x02
)

// DefaultFrameTimeout bounds the wait for a frame's payload and end marker
// once its length is known. A stalled host costs one dropped frame, not a
// hung receive loop.
const DefaultFrameTimeout = 100 * time.Millisecond

// FrameSource produces complete command payloads, one per wire frame. The
// sequence is lazy and restartable: recoverable link noise is absorbed
// internally and only I/O termination ends it.
type FrameSource interface {
	// Next blocks until a complete, validated payload is available. The
	// returned slice is only valid until the following call.
	Next(ctx context.Context) ([]byte, error)
}

// ResponseWriter is the acknowledgement channel back to the host. Transports
// without one (the SPI slot, whose return path is the status block) simply
// don't implement it.
type ResponseWriter interface {
	WriteResponse(code byte, body []byte) error
}

// AppendFrame appends one framed payload to dst and returns it. It is the
// encode half of the UART protocol, shared by the host-side client.
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = append(dst, frameStart)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, payload...)
	dst = append(dst, frameEnd)
	return dst
}

// deadlineReader is the optional link surface used to bound payload waits.
// net.Conn implements it; serial ports bound their own reads instead.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// UARTOpts are options for a UART frame source.
type UARTOpts struct {
	// Stats receives framing error and byte counters. Required.
	Stats *Stats
	// Timeout overrides DefaultFrameTimeout if positive.
	Timeout time.Duration
}

// UARTSource decodes length-delimited frames from a serial link. It also
// implements ResponseWriter over the same link.
type UARTSource struct {
	br      *bufio.Reader
	w       io.Writer
	link    io.Reader
	stats   *Stats
	timeout time.Duration

	buf  []byte // payload scratch, MaxPayload+1 for the end marker
	wbuf []byte
}

var _ FrameSource = (*UARTSource)(nil)
var _ ResponseWriter = (*UARTSource)(nil)

// NewUARTSource wraps a serial link. Reads and response writes both go
// through link.
func NewUARTSource(link io.ReadWriter, opts UARTOpts) *UARTSource {
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFrameTimeout
	}
	return &UARTSource{
		br:      bufio.NewReaderSize(link, 4096),
		w:       link,
		link:    link,
		stats:   opts.Stats,
		timeout: opts.Timeout,
		buf:     make([]byte, MaxPayload+1),
	}
}

// Next implements FrameSource. Framing errors (out-of-sync bytes, oversize
// lengths, payload timeouts, bad end markers) increment the error counter
// and resume marker scanning; they are never returned.
func (s *UARTSource) Next(ctx context.Context) ([]byte, error) {
	var hdr [2]byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := s.br.ReadByte()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Idle link; keep scanning.
				continue
			}
			return nil, err
		}
		if b != frameStart {
			// Out of sync: discard until the next marker.
			s.stats.PacketErrors.Add(1)
			continue
		}

		// Once a frame has started, the rest of it must arrive within the
		// timeout budget.
		s.setDeadline(time.Now().Add(s.timeout))

		_, err = io.ReadFull(s.br, hdr[:])
		if err != nil {
			s.clearDeadline()
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.stats.PacketErrors.Add(1)
				continue
			}
			return nil, err
		}

		payloadLen := int(binary.LittleEndian.Uint16(hdr[:]))
		if payloadLen > MaxPayload {
			// Oversize claim: reject without reading payloadLen bytes.
			s.clearDeadline()
			s.stats.PacketErrors.Add(1)
			continue
		}

		_, err = io.ReadFull(s.br, s.buf[:payloadLen+1])
		s.clearDeadline()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Abandon the in-flight frame; no partial dispatch.
				s.stats.PacketErrors.Add(1)
				continue
			}
			return nil, err
		}

		if s.buf[payloadLen] != frameEnd {
			s.stats.PacketErrors.Add(1)
			continue
		}

		return s.buf[:payloadLen:payloadLen], nil
	}
}

// WriteResponse implements ResponseWriter using the same framing as
// requests: [0xAA][len][code][body][0x55].
func (s *UARTSource) WriteResponse(code byte, body []byte) error {
	s.wbuf = s.wbuf[:0]
	s.wbuf = append(s.wbuf, frameStart)
	s.wbuf = binary.LittleEndian.AppendUint16(s.wbuf, uint16(1+len(body)))
	s.wbuf = append(s.wbuf, code)
	s.wbuf = append(s.wbuf, body...)
	s.wbuf = append(s.wbuf, frameEnd)

	_, err := s.w.Write(s.wbuf)
	return err
}

// Close closes the underlying link if it is closeable, unblocking any
// in-flight read.
func (s *UARTSource) Close() error {
	if c, ok := s.link.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *UARTSource) setDeadline(t time.Time) {
	if dr, ok := s.link.(deadlineReader); ok {
		dr.SetReadDeadline(t)
	}
}

func (s *UARTSource) clearDeadline() {
	if dr, ok := s.link.(deadlineReader); ok {
		dr.SetReadDeadline(time.Time{})
	}
}
