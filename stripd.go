package stripd

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Command opcodes, first byte of every request payload.
const (
	OpSetPixel      = 0x01
	OpSetBrightness = 0x02
	OpShow          = 0x03
	OpClear         = 0x04
	OpSetRange      = 0x05
	OpSetAll        = 0x06
	OpConfig        = 0x07
	OpEcho          = 0xFE
	OpPing          = 0xFF
)

// DefaultBrightness is the boot-time global brightness scalar.
const DefaultBrightness = 50

const statsInterval = 5 * time.Second

// EngineOpts are options for an engine.
type EngineOpts struct {
	// Display is the sink the pixel buffer is flushed into.
	Display Display
	// Logger is the logger to use for the engine.
	Logger *slog.Logger
	// Stats is the counter set to update. A fresh set is created if nil.
	Stats *Stats
	// Config is the initial configuration. DefaultConfig() if zero.
	Config Config
	// StatusToggle, if set, is invoked on every PING to toggle a status
	// indicator.
	StatusToggle func()
}

// Engine decodes command payloads and mutates the pixel buffer. All
// mutation happens on the single goroutine that calls Run (or handle); only
// the atomic statistics counters cross a concurrency boundary.
type Engine struct {
	opts   EngineOpts
	logger *slog.Logger
	stats  *Stats

	display    Display
	buf        *PixelBuffer
	brightness uint8
	verbose    bool
}

// NewEngine creates a new engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Display == nil {
		return nil, errors.New("stripd: EngineOpts.Display is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}

	buf, err := NewPixelBuffer(opts.Config)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:       opts,
		logger:     opts.Logger,
		stats:      opts.Stats,
		display:    opts.Display,
		buf:        buf,
		brightness: DefaultBrightness,
	}
	e.display.SetBrightness(e.brightness)
	return e, nil
}

// Stats returns the engine's counter set.
func (e *Engine) Stats() *Stats { return e.stats }

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.buf.Config() }

// Status implements StatusProvider for the SPI response half-slot.
func (e *Engine) Status() Status {
	snap := e.stats.snapshot()
	cfg := e.buf.Config()
	return Status{
		UptimeMillis:   snap.UptimeMillis,
		FramesRendered: snap.FramesRendered,
		SetAllCommands: snap.SetAllCommands,
		Packets:        snap.PacketsReceived,
		ZeroPayloads:   snap.ZeroPayloads,
		LastShowMicros: snap.LastShowMicros,
		BytesReceived:  snap.BytesReceived,
		Strips:         uint32(cfg.Strips),
		LEDsPerStrip:   uint32(cfg.LEDsPerStrip),
	}
}

// Run services the link until ctx is cancelled or the link terminates.
// Frames are dispatched one at a time; a periodic goroutine logs the
// statistics snapshot. If the source holds a closeable link, it is closed
// when ctx ends so a blocked read can't outlive the engine.
func (e *Engine) Run(ctx context.Context, src FrameSource) error {
	errg, ctx := errgroup.WithContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if closer, ok := src.(io.Closer); ok {
		errg.Go(func() error {
			<-ctx.Done()

			e.logger.DebugContext(ctx,
				"closing link",
				"error", context.Cause(ctx))

			closer.Close()
			return nil
		})
	}

	errg.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		prev := e.stats.snapshot()
		last := time.Now()

		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				cur := e.stats.snapshot()
				fps, kbps := cur.rates(prev, now.Sub(last))
				e.logger.InfoContext(ctx,
					"link statistics",
					"packets", cur.PacketsReceived,
					"frames", cur.FramesRendered,
					"fps", fps,
					"throughput_kbps", kbps,
					"errors", cur.PacketErrors,
					"show_us", cur.LastShowMicros,
					"configs", cur.ConfigCommands,
					"set_alls", cur.SetAllCommands)
				prev, last = cur, now
			}
		}
	})

	errg.Go(func() error {
		defer cancel()

		rw, _ := src.(ResponseWriter)

		for {
			payload, err := src.Next(ctx)
			if err != nil {
				if ctx.Err() != nil ||
					errors.Is(err, io.EOF) ||
					errors.Is(err, io.ErrClosedPipe) ||
					errors.Is(err, net.ErrClosed) {
					e.logger.DebugContext(ctx,
						"link terminated",
						"error", err)
					return nil
				}
				return err
			}

			e.handle(payload, rw)
		}
	})

	return errg.Wait()
}

// handle dispatches one decoded payload. rw may be nil for transports
// without a response channel.
func (e *Engine) handle(payload []byte, rw ResponseWriter) {
	if len(payload) == 0 {
		e.stats.ZeroPayloads.Add(1)
		return
	}

	e.stats.PacketsReceived.Add(1)
	e.stats.BytesReceived.Add(uint32(len(payload)))

	op := payload[0]
	args := payload[1:]

	if e.verbose {
		e.logger.Debug(
			"command received",
			"opcode", op,
			"len", len(payload))
	}

	switch op {
	case OpPing:
		if e.opts.StatusToggle != nil {
			e.opts.StatusToggle()
		}
		e.respond(rw, RespOK, []byte("PONG"))

	case OpEcho:
		// Link-integrity self-test: the arguments come back verbatim.
		e.respond(rw, RespOK, args)

	case OpSetPixel:
		if len(args) < 5 {
			return
		}
		idx := int(binary.BigEndian.Uint16(args[0:2]))
		if idx >= e.buf.TotalLEDs() {
			return
		}
		e.buf.Set(idx, RGB{R: args[2], G: args[3], B: args[4]})

	case OpSetBrightness:
		if len(args) < 1 {
			return
		}
		e.brightness = args[0]
		e.display.SetBrightness(args[0])

	case OpShow:
		e.flush()

	case OpClear:
		e.buf.Clear()
		e.display.Clear()
		e.show()

	case OpSetRange:
		if len(args) < 3 {
			return
		}
		start := int(binary.BigEndian.Uint16(args[0:2]))
		total := e.buf.TotalLEDs()
		if start >= total {
			return
		}
		count := int(args[2])
		if len(args) < 3+count*3 {
			// No partial writes: the whole range arrives or nothing does.
			return
		}
		if start+count > total {
			count = total - start
		}
		for i := 0; i < count; i++ {
			base := 3 + i*3
			e.buf.Set(start+i, RGB{R: args[base], G: args[base+1], B: args[base+2]})
		}

	case OpSetAll:
		e.stats.SetAllCommands.Add(1)
		total := e.buf.TotalLEDs()
		expected := 1 + total*3
		if len(payload) != expected {
			// A partially applied full frame would render garbage, so the
			// exact byte count for the current configuration is required.
			e.stats.PacketErrors.Add(1)
			e.logger.Warn(
				"SET_ALL size mismatch",
				"expected", expected,
				"got", len(payload),
				"strips", e.buf.Config().Strips,
				"leds_per_strip", e.buf.Config().LEDsPerStrip)
			e.respond(rw, RespError, []byte("SIZE_MISMATCH"))
			return
		}
		for i := 0; i < total; i++ {
			base := i * 3
			e.buf.Set(i, RGB{R: args[base], G: args[base+1], B: args[base+2]})
		}
		e.buf.ClearUnusedTail()
		e.flush()
		e.stats.FramesRendered.Add(1)

	case OpConfig:
		e.stats.ConfigCommands.Add(1)
		if len(args) < 3 {
			e.respond(rw, RespError, []byte("CONFIG_TOO_SHORT"))
			return
		}

		cfg := Config{
			Strips:       args[0],
			LEDsPerStrip: binary.BigEndian.Uint16(args[1:3]),
		}

		changed, err := e.buf.Reconfigure(cfg)
		if err != nil {
			e.logger.Warn(
				"rejected configuration",
				"error", err)
			if errors.Is(err, ErrInvalidStrips) {
				e.respond(rw, RespError, []byte("INVALID_STRIPS"))
			} else {
				e.respond(rw, RespError, []byte("INVALID_LENGTH"))
			}
			return
		}

		if changed {
			e.display.Clear()
			e.show()
			e.logger.Info(
				"configuration changed",
				"strips", cfg.Strips,
				"leds_per_strip", cfg.LEDsPerStrip,
				"total", cfg.TotalLEDs())
			e.respond(rw, RespOK, []byte("CONFIG_CHANGED"))
		} else {
			e.respond(rw, RespOK, []byte("CONFIG_OK"))
		}

		if len(args) >= 4 {
			e.verbose = args[3] != 0
			if e.verbose {
				e.logger.Info("verbose command logging enabled")
			}
		}

	default:
		e.stats.PacketErrors.Add(1)
		e.logger.Debug(
			"unknown opcode",
			"opcode", op,
			"len", len(payload))
	}
}

func (e *Engine) respond(rw ResponseWriter, code byte, body []byte) {
	if rw == nil {
		return
	}
	if err := rw.WriteResponse(code, body); err != nil {
		e.logger.Error(
			"failed to write response",
			"code", code,
			"error", err)
	}
}

// flush stages every physical slot of the active strips and shows them.
func (e *Engine) flush() {
	cfg := e.buf.Config()
	for strip := 0; strip < int(cfg.Strips); strip++ {
		base := strip * MaxLEDsPerStrip
		for off := 0; off < MaxLEDsPerStrip; off++ {
			e.display.SetPixel(base+off, e.buf.At(base+off))
		}
	}
	e.show()
}

// show latches the display and records the flush duration. The operation is
// synchronous; once started it runs to completion.
func (e *Engine) show() {
	start := time.Now()
	if err := e.display.Show(); err != nil {
		e.logger.Error(
			"error flushing display",
			"error", err)
	}
	e.stats.LastShowMicros.Store(uint32(time.Since(start).Microseconds()))
}
