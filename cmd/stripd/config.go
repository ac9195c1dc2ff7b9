package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"dev.acmcsuf.com/stripd"
	"github.com/BurntSushi/toml"
)

// stripd.toml key mapping to daemon runtime settings.
type fileConfig struct {
	Port            string `toml:"port"`
	Baud            int    `toml:"baud"`
	Transport       string `toml:"transport"`
	Driver          string `toml:"driver"`
	Strips          int    `toml:"strips"`
	LEDsPerStrip    int    `toml:"leds_per_strip"`
	TransactionSize int    `toml:"transaction_size"`

	WS281x ws281xFileConfig `toml:"ws281x"`
	NRZLED nrzledFileConfig `toml:"nrzled"`
}

type ws281xFileConfig struct {
	GPIOPins     []int `toml:"gpio_pins"`
	DMAChannel   int   `toml:"dma_channel"`
	PWMFrequency int   `toml:"pwm_frequency"`
}

type nrzledFileConfig struct {
	SPIPort string `toml:"spi_port"`
	FreqKHz int    `toml:"freq_khz"`
}

// serviceConfig is the resolved daemon configuration.
type serviceConfig struct {
	Port            string
	Baud            int
	Transport       string // uart | spi
	Driver          string // ws281x | nrzled | none
	Strips          int
	LEDsPerStrip    int
	TransactionSize int

	WS281x ws281xFileConfig
	NRZLED nrzledFileConfig
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Port:         "/dev/ttyUSB0",
		Baud:         115200,
		Transport:    "uart",
		Driver:       "none",
		Strips:       stripd.DefaultStrips,
		LEDsPerStrip: stripd.DefaultLEDsPerStrip,
		WS281x: ws281xFileConfig{
			GPIOPins:     []int{12},
			DMAChannel:   10,
			PWMFrequency: 800000,
		},
		NRZLED: nrzledFileConfig{
			SPIPort: "",
			FreqKHz: 2500,
		},
	}
}

// loadConfig overlays a TOML file onto the defaults. A missing file is not
// an error; the defaults serve as-is.
func loadConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return serviceConfig{}, fmt.Errorf("load stripd config: %w", err)
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("driver") {
		cfg.Driver = strings.TrimSpace(raw.Driver)
	}
	if meta.IsDefined("strips") {
		cfg.Strips = raw.Strips
	}
	if meta.IsDefined("leds_per_strip") {
		cfg.LEDsPerStrip = raw.LEDsPerStrip
	}
	if meta.IsDefined("transaction_size") {
		cfg.TransactionSize = raw.TransactionSize
	}
	if meta.IsDefined("ws281x", "gpio_pins") {
		cfg.WS281x.GPIOPins = raw.WS281x.GPIOPins
	}
	if meta.IsDefined("ws281x", "dma_channel") {
		cfg.WS281x.DMAChannel = raw.WS281x.DMAChannel
	}
	if meta.IsDefined("ws281x", "pwm_frequency") {
		cfg.WS281x.PWMFrequency = raw.WS281x.PWMFrequency
	}
	if meta.IsDefined("nrzled", "spi_port") {
		cfg.NRZLED.SPIPort = strings.TrimSpace(raw.NRZLED.SPIPort)
	}
	if meta.IsDefined("nrzled", "freq_khz") {
		cfg.NRZLED.FreqKHz = raw.NRZLED.FreqKHz
	}

	if cfg.Strips < 1 || cfg.Strips > stripd.MaxStrips {
		return serviceConfig{}, fmt.Errorf("strips must be 1..%d, got %d", stripd.MaxStrips, cfg.Strips)
	}
	if cfg.LEDsPerStrip < 1 || cfg.LEDsPerStrip > stripd.MaxLEDsPerStrip {
		return serviceConfig{}, fmt.Errorf("leds_per_strip must be 1..%d, got %d", stripd.MaxLEDsPerStrip, cfg.LEDsPerStrip)
	}

	return cfg, nil
}

// openDisplay picks the configured display sink.
func openDisplay(cfg serviceConfig, logger *slog.Logger) (stripd.Display, error) {
	switch cfg.Driver {
	case "ws281x":
		return newWS281xDisplay(cfg)
	case "nrzled":
		return newNRZDisplay(cfg, logger)
	case "none":
		return nullDisplay{}, nil
	default:
		return nil, fmt.Errorf("unknown display driver %q", cfg.Driver)
	}
}

// nullDisplay discards everything; useful for protocol bring-up on a dev
// machine with no LED hardware attached.
type nullDisplay struct{}

func (nullDisplay) SetPixel(int, stripd.RGB) {}
func (nullDisplay) SetBrightness(uint8)      {}
func (nullDisplay) Show() error              { return nil }
func (nullDisplay) Clear()                   {}
