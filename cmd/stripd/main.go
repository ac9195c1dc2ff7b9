package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"dev.acmcsuf.com/stripd"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/tarm/serial"
)

var (
	configPath  = "stripd.toml"
	portName    = ""
	startupTest = false
	verbose     = false
)

func init() {
	pflag.StringVarP(&configPath, "config", "c", configPath, "TOML config file")
	pflag.StringVarP(&portName, "port", "p", portName, "serial port, overrides the config file")
	pflag.BoolVar(&startupTest, "startup-test", startupTest, "run the boot wipe pattern before serving")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose logging")
}

func main() {
	log.SetFlags(0)
	pflag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05 PM", // extended time.Kitchen
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if portName != "" {
		cfg.Port = portName
	}

	display, err := openDisplay(cfg, logger.With("component", "display"))
	if err != nil {
		return fmt.Errorf("failed to open display: %v", err)
	}

	engine, err := stripd.NewEngine(stripd.EngineOpts{
		Display: display,
		Logger:  logger.With("component", "engine"),
		Config: stripd.Config{
			Strips:       uint8(cfg.Strips),
			LEDsPerStrip: uint16(cfg.LEDsPerStrip),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %v", err)
	}

	if startupTest {
		runStartupPattern(display, cfg)
	}

	var src stripd.FrameSource
	switch cfg.Transport {
	case "uart":
		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Port,
			Baud:        cfg.Baud,
			ReadTimeout: 100 * time.Millisecond,
		})
		if err != nil {
			return fmt.Errorf("failed to open serial port %q: %v", cfg.Port, err)
		}
		src = stripd.NewUARTSource(serialLink{port}, stripd.UARTOpts{
			Stats: engine.Stats(),
		})

	case "spi":
		// The slot device delivers one chip-select-bounded transaction per
		// read; no serial line discipline involved.
		dev, err := os.OpenFile(cfg.Port, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("failed to open SPI slot device %q: %v", cfg.Port, err)
		}
		src = stripd.NewSPISource(dev, stripd.SPIOpts{
			Status:          engine,
			Stats:           engine.Stats(),
			TransactionSize: cfg.TransactionSize,
		})

	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	logger.Info(
		"serving LED link",
		"port", cfg.Port,
		"baud", cfg.Baud,
		"transport", cfg.Transport,
		"driver", cfg.Driver,
		"strips", cfg.Strips,
		"leds_per_strip", cfg.LEDsPerStrip)

	return engine.Run(ctx, src)
}

// serialLink adapts a tarm serial port to the decoder's link surface.
type serialLink struct {
	*serial.Port
}

// Read maps a VTIME expiry (surfaced by tarm as a zero-byte io.EOF) to a
// deadline miss so the decoder keeps scanning instead of treating the port
// as closed.
func (l serialLink) Read(p []byte) (int, error) {
	n, err := l.Port.Read(p)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

var wipeColors = []stripd.RGB{
	{R: 255}, {R: 255, G: 127}, {R: 255, G: 255}, {G: 255},
	{G: 255, B: 255}, {B: 255}, {R: 255, B: 255}, {R: 64, G: 64, B: 64},
}

// runStartupPattern flashes white and wipes one color per strip so miswired
// strips are obvious before the host starts streaming.
func runStartupPattern(d stripd.Display, cfg serviceConfig) {
	flash := func(c stripd.RGB) {
		for strip := 0; strip < cfg.Strips; strip++ {
			base := strip * stripd.MaxLEDsPerStrip
			for off := 0; off < cfg.LEDsPerStrip; off++ {
				d.SetPixel(base+off, c)
			}
		}
		d.Show()
		time.Sleep(200 * time.Millisecond)
	}

	flash(stripd.RGB{R: 64, G: 64, B: 64})
	d.Clear()
	d.Show()
	time.Sleep(200 * time.Millisecond)

	for strip := 0; strip < cfg.Strips; strip++ {
		base := strip * stripd.MaxLEDsPerStrip
		c := wipeColors[strip%len(wipeColors)]
		for off := 0; off < cfg.LEDsPerStrip; off++ {
			d.SetPixel(base+off, c)
		}
		d.Show()
		time.Sleep(150 * time.Millisecond)
	}

	d.Clear()
	d.Show()
}
