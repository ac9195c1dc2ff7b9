package stripd

import (
	"sync/atomic"
	"time"
)

// Stats holds the process-wide counters. Every field is lock-free so that
// interrupt-style contexts (transaction-complete notifications, edge
// counters) can increment them without ever touching the dispatcher or the
// pixel buffer. Counters are monotonic and reset only by restart.
type Stats struct {
	PacketsReceived atomic.Uint32
	FramesRendered  atomic.Uint32
	PacketErrors    atomic.Uint32
	ConfigCommands  atomic.Uint32
	SetAllCommands  atomic.Uint32
	ZeroPayloads    atomic.Uint32
	BytesReceived   atomic.Uint32
	LastShowMicros  atomic.Uint32

	start time.Time
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// Uptime is the time since the stats (i.e. the process) started.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.start)
}

// snapshot is a point-in-time copy used for periodic logging and for the
// SPI status block.
type snapshot struct {
	UptimeMillis    uint32
	PacketsReceived uint32
	FramesRendered  uint32
	PacketErrors    uint32
	ConfigCommands  uint32
	SetAllCommands  uint32
	ZeroPayloads    uint32
	BytesReceived   uint32
	LastShowMicros  uint32
}

func (s *Stats) snapshot() snapshot {
	return snapshot{
		UptimeMillis:    uint32(s.Uptime().Milliseconds()),
		PacketsReceived: s.PacketsReceived.Load(),
		FramesRendered:  s.FramesRendered.Load(),
		PacketErrors:    s.PacketErrors.Load(),
		ConfigCommands:  s.ConfigCommands.Load(),
		SetAllCommands:  s.SetAllCommands.Load(),
		ZeroPayloads:    s.ZeroPayloads.Load(),
		BytesReceived:   s.BytesReceived.Load(),
		LastShowMicros:  s.LastShowMicros.Load(),
	}
}

// rates derives frames-per-second and link throughput (kbit/s) from the
// previous snapshot. dt is the wall time between the two snapshots.
func (cur snapshot) rates(prev snapshot, dt time.Duration) (fps, kbps float64) {
	if dt <= 0 {
		return 0, 0
	}
	frames := float64(cur.FramesRendered - prev.FramesRendered)
	bytes := float64(cur.BytesReceived - prev.BytesReceived)
	fps = frames / dt.Seconds()
	kbps = bytes * 8 / 1000 / dt.Seconds()
	return fps, kbps
}
