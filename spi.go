package stripd

import (
	"context"
	"encoding/binary"
	"io"
)

// DefaultTransactionSize is the largest SPI transaction the peripheral
// accepts: a full SET_ALL frame at maximum capacity.
const DefaultTransactionSize = MaxPayload

// statusMagic is the build tag leading every status block.
var statusMagic = [4]byte{'L', 'E', 'D', 'S'}

// StatusBlockLen is the fixed size of the response-half status block:
// the magic tag plus nine little-endian uint32 fields.
const StatusBlockLen = 4 + 9*4

// Status is the peripheral state returned to the host in the SPI response
// half-slot.
type Status struct {
	UptimeMillis   uint32
	FramesRendered uint32
	SetAllCommands uint32
	Packets        uint32
	ZeroPayloads   uint32
	LastShowMicros uint32
	BytesReceived  uint32
	Strips         uint32
	LEDsPerStrip   uint32
}

// StatusProvider supplies the current status snapshot. *Engine implements it.
type StatusProvider interface {
	Status() Status
}

// AppendStatus appends the wire encoding of st to dst and returns it.
func AppendStatus(dst []byte, st Status) []byte {
	dst = append(dst, statusMagic[:]...)
	for _, v := range [...]uint32{
		st.UptimeMillis,
		st.FramesRendered,
		st.SetAllCommands,
		st.Packets,
		st.ZeroPayloads,
		st.LastShowMicros,
		st.BytesReceived,
		st.Strips,
		st.LEDsPerStrip,
	} {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

// SPIOpts are options for an SPI frame source.
type SPIOpts struct {
	// Status supplies the block returned in each response half-slot.
	// Required.
	Status StatusProvider
	// Stats receives the zero-payload counter. Required.
	Stats *Stats
	// TransactionSize overrides DefaultTransactionSize if positive.
	TransactionSize int
}

// SPISource adapts a transaction-bounded link into a FrameSource. The
// transport's chip-select framing substitutes for explicit markers: each
// Read on the link yields the bytes of exactly one completed transaction,
// which are forwarded verbatim as a command payload. No further framing is
// applied.
//
// After each request the source writes a refreshed status block for the
// next response half-slot, so the host always reads state current as of the
// previous command.
type SPISource struct {
	link   io.ReadWriter
	status StatusProvider
	stats  *Stats
	buf    []byte
	sbuf   []byte
}

var _ FrameSource = (*SPISource)(nil)

// NewSPISource wraps a transaction-bounded link.
func NewSPISource(link io.ReadWriter, opts SPIOpts) *SPISource {
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	size := opts.TransactionSize
	if size <= 0 {
		size = DefaultTransactionSize
	}
	return &SPISource{
		link:   link,
		status: opts.Status,
		stats:  opts.Stats,
		buf:    make([]byte, size),
		sbuf:   make([]byte, 0, StatusBlockLen),
	}
}

// Close closes the underlying link if it is closeable, unblocking any
// in-flight read.
func (s *SPISource) Close() error {
	if c, ok := s.link.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Next implements FrameSource. Empty transactions are counted and skipped;
// they still refresh the outgoing status block.
func (s *SPISource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.link.Read(s.buf)
		if err != nil {
			return nil, err
		}

		s.sbuf = AppendStatus(s.sbuf[:0], s.status.Status())
		if _, err := s.link.Write(s.sbuf); err != nil {
			return nil, err
		}

		if n == 0 {
			s.stats.ZeroPayloads.Add(1)
			continue
		}
		return s.buf[:n:n], nil
	}
}
