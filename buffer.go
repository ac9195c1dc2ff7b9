package stripd

import (
	"errors"
	"fmt"
)

// Hard limits of the physical LED layout. The pixel buffer is always
// allocated at full capacity; the active configuration only changes how
// logical indices map into it.
const (
	MaxStrips       = 8
	MaxLEDsPerStrip = 500
	MaxTotalLEDs    = MaxStrips * MaxLEDsPerStrip
)

// Defaults used until the host sends a CONFIG command.
const (
	DefaultStrips       = 8
	DefaultLEDsPerStrip = 140
)

var (
	ErrInvalidStrips = errors.New("strip count out of range")
	ErrInvalidLength = errors.New("LEDs per strip out of range")
)

// RGB is one pixel's color triple.
type RGB struct {
	R, G, B uint8
}

// Config is the active (strip count, LEDs per strip) pair governing
// logical-to-physical address translation.
type Config struct {
	Strips       uint8
	LEDsPerStrip uint16
}

// DefaultConfig returns the boot-time configuration.
func DefaultConfig() Config {
	return Config{Strips: DefaultStrips, LEDsPerStrip: DefaultLEDsPerStrip}
}

// Validate checks both fields against the hard maxima.
func (c Config) Validate() error {
	if c.Strips == 0 || c.Strips > MaxStrips {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidStrips, c.Strips, MaxStrips)
	}
	if c.LEDsPerStrip == 0 || c.LEDsPerStrip > MaxLEDsPerStrip {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, c.LEDsPerStrip, MaxLEDsPerStrip)
	}
	return nil
}

// TotalLEDs is the number of logically addressable pixels.
func (c Config) TotalLEDs() int {
	return int(c.Strips) * int(c.LEDsPerStrip)
}

// PixelBuffer is the in-memory frame store. Physical slots are laid out as
// strip*MaxLEDsPerStrip + offset regardless of the active configuration, so
// a shorter configuration leaves a tail of unused slots within each strip.
type PixelBuffer struct {
	pix []RGB
	cfg Config
}

// NewPixelBuffer allocates a full-capacity buffer. The config must be valid.
func NewPixelBuffer(cfg Config) (*PixelBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PixelBuffer{
		pix: make([]RGB, MaxTotalLEDs),
		cfg: cfg,
	}, nil
}

// Config returns the active configuration.
func (b *PixelBuffer) Config() Config { return b.cfg }

// TotalLEDs returns the logical pixel count of the active configuration.
func (b *PixelBuffer) TotalLEDs() int { return b.cfg.TotalLEDs() }

// Translate maps a logical index to its physical slot. Indices at or past
// the logical end collapse to the final slot of the last active strip; a
// corrupted payload can therefore never index out of bounds.
func (b *PixelBuffer) Translate(logical int) int {
	perStrip := int(b.cfg.LEDsPerStrip)
	strip := logical / perStrip
	offset := logical % perStrip
	if logical < 0 || strip >= int(b.cfg.Strips) {
		strip = int(b.cfg.Strips) - 1
		offset = perStrip - 1
	}
	return strip*MaxLEDsPerStrip + offset
}

// Set writes one pixel at a logical index, clamping as Translate does.
func (b *PixelBuffer) Set(logical int, c RGB) {
	b.pix[b.Translate(logical)] = c
}

// At returns the pixel stored at a physical slot.
func (b *PixelBuffer) At(physical int) RGB {
	return b.pix[physical]
}

// Clear zeroes the entire physical buffer, active or not.
func (b *PixelBuffer) Clear() {
	for i := range b.pix {
		b.pix[i] = RGB{}
	}
}

// ClearUnusedTail zeroes physical capacity beyond LEDsPerStrip within each
// active strip. Drivers render full physical strip length, so without this a
// resize from a larger configuration would leave stale pixels lit.
func (b *PixelBuffer) ClearUnusedTail() {
	for strip := 0; strip < int(b.cfg.Strips); strip++ {
		base := strip * MaxLEDsPerStrip
		for off := int(b.cfg.LEDsPerStrip); off < MaxLEDsPerStrip; off++ {
			b.pix[base+off] = RGB{}
		}
	}
}

// Reconfigure validates and applies a new configuration. If either field
// actually changes, the whole physical buffer is cleared and changed is
// true. An invalid config leaves both the configuration and the buffer
// untouched.
func (b *PixelBuffer) Reconfigure(cfg Config) (changed bool, err error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	changed = cfg != b.cfg
	b.cfg = cfg
	if changed {
		b.Clear()
	}
	return changed, nil
}
