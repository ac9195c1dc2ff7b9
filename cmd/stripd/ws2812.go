package main

import (
	"fmt"

	"dev.acmcsuf.com/stripd"
	"libdb.so/ledctl"
)

// RGBController is a controller for RGB LEDs.
type RGBController interface {
	SetRGBAt(i int, color ledctl.RGB)
	Flush() error
}

// ws281xDisplay drives WS281x strips over PWM/DMA. The global brightness
// scalar is applied while staging, matching the engine's flush-time
// brightness contract.
type ws281xDisplay struct {
	ctrl       RGBController
	numPixels  int
	brightness uint8
}

var _ stripd.Display = (*ws281xDisplay)(nil)

func newWS281xDisplay(cfg serviceConfig) (*ws281xDisplay, error) {
	numPixels := cfg.Strips * stripd.MaxLEDsPerStrip

	ws281x, err := ledctl.NewWS281x(ledctl.WS281xConfig{
		NumPixels:    numPixels,
		ColorOrder:   ledctl.BGROrder,
		ColorModel:   ledctl.RGBModel,
		PWMFrequency: uint(cfg.WS281x.PWMFrequency),
		DMAChannel:   cfg.WS281x.DMAChannel,
		GPIOPins:     cfg.WS281x.GPIOPins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create a WS281x controller: %v", err)
	}

	return &ws281xDisplay{
		ctrl:       ws281x,
		numPixels:  numPixels,
		brightness: stripd.DefaultBrightness,
	}, nil
}

func (d *ws281xDisplay) SetPixel(i int, c stripd.RGB) {
	if i < 0 || i >= d.numPixels {
		return
	}
	d.ctrl.SetRGBAt(i, ledctl.RGB{
		R: scale(c.R, d.brightness),
		G: scale(c.G, d.brightness),
		B: scale(c.B, d.brightness),
	})
}

func (d *ws281xDisplay) SetBrightness(b uint8) {
	d.brightness = b
}

func (d *ws281xDisplay) Show() error {
	return d.ctrl.Flush()
}

func (d *ws281xDisplay) Clear() {
	for i := 0; i < d.numPixels; i++ {
		d.ctrl.SetRGBAt(i, ledctl.RGB{})
	}
}

func scale(v, brightness uint8) uint8 {
	return uint8(uint16(v) * uint16(brightness) / 255)
}
