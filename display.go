package stripd

// Display is the sink the engine flushes the pixel buffer into. It is owned
// by the surrounding program, not the core: implementations wrap real strip
// drivers (WS281x, NRZ-over-SPI) or test doubles.
//
// Physical indices follow the buffer layout: strip*MaxLEDsPerStrip + offset.
// Show blocks until the hardware has latched the frame.
type Display interface {
	// SetPixel stages one pixel at a physical index.
	SetPixel(physical int, c RGB)
	// SetBrightness sets the global brightness scalar applied at flush time.
	SetBrightness(b uint8)
	// Show flushes everything staged so far to the hardware.
	Show() error
	// Clear stages black on every pixel.
	Clear()
}
