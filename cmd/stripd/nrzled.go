package main

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"dev.acmcsuf.com/stripd"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/extra/devices/screen"
	"periph.io/x/host/v3"
)

// nrzDisplay stages pixels into a 1×N image and draws it through an
// NRZ-over-SPI strip device. When no SPI port is available it falls back to
// an ANSI console renderer so the daemon stays usable on a dev machine.
type nrzDisplay struct {
	drawer     display.Drawer
	img        *image.NRGBA
	numPixels  int
	brightness uint8
}

var _ stripd.Display = (*nrzDisplay)(nil)

func newNRZDisplay(cfg serviceConfig, logger *slog.Logger) (*nrzDisplay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %v", err)
	}

	numPixels := cfg.Strips * stripd.MaxLEDsPerStrip

	var drawer display.Drawer
	port, err := spireg.Open(cfg.NRZLED.SPIPort)
	if err != nil {
		logger.Warn(
			"no SPI port found, rendering to the console",
			"error", err)
		drawer = screen.New(100)
	} else {
		dev, err := nrzled.NewSPI(port, &nrzled.Opts{
			NumPixels: numPixels,
			Channels:  3,
			Freq:      physic.Frequency(cfg.NRZLED.FreqKHz) * physic.KiloHertz,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create NRZ LED device: %v", err)
		}
		drawer = dev
	}

	return &nrzDisplay{
		drawer:     drawer,
		img:        image.NewNRGBA(image.Rect(0, 0, numPixels, 1)),
		numPixels:  numPixels,
		brightness: stripd.DefaultBrightness,
	}, nil
}

func (d *nrzDisplay) SetPixel(i int, c stripd.RGB) {
	if i < 0 || i >= d.numPixels {
		return
	}
	d.img.SetNRGBA(i, 0, color.NRGBA{
		R: scale(c.R, d.brightness),
		G: scale(c.G, d.brightness),
		B: scale(c.B, d.brightness),
		A: 255,
	})
}

func (d *nrzDisplay) SetBrightness(b uint8) {
	d.brightness = b
}

func (d *nrzDisplay) Show() error {
	return d.drawer.Draw(d.drawer.Bounds(), d.img, image.Point{})
}

func (d *nrzDisplay) Clear() {
	for i := range d.img.Pix {
		d.img.Pix[i] = 0
	}
	for i := 3; i < len(d.img.Pix); i += 4 {
		d.img.Pix[i] = 255
	}
}
