// Command stripd-send frames LED commands onto a serial link and prints the
// peripheral's responses. It is the host half of the protocol, kept here for
// link bring-up and integrity testing.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dev.acmcsuf.com/stripd"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/tarm/serial"
)

var (
	portName     = "/dev/ttyUSB0"
	baud         = 115200
	strips       = stripd.DefaultStrips
	ledsPerStrip = stripd.DefaultLEDsPerStrip
	respTimeout  = 2 * time.Second
	verbose      = false
)

func init() {
	pflag.StringVarP(&portName, "port", "p", portName, "serial port")
	pflag.IntVarP(&baud, "baud", "b", baud, "baud rate")
	pflag.IntVar(&strips, "strips", strips, "strip count, sizes fill frames")
	pflag.IntVar(&ledsPerStrip, "leds", ledsPerStrip, "LEDs per strip, sizes fill frames")
	pflag.DurationVar(&respTimeout, "timeout", respTimeout, "response wait")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose logging")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <command> [args]\n\n", os.Args[0])
		fmt.Fprint(os.Stderr, `commands:
  ping
  echo <byte>...
  show
  clear
  brightness <0-255>
  pixel <index> <r> <g> <b>
  fill <r> <g> <b>
  config <strips> <leds-per-strip>

flags:
`)
		pflag.PrintDefaults()
	}
}

func main() {
	log.SetFlags(0)
	pflag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), logger, pflag.Args()); err != nil {
		log.Fatal(err)
	}
}

// respMode says whether a command is expected to answer. SET_ALL only
// responds on failure, so its response is optional.
type respMode int

const (
	respNone respMode = iota
	respOptional
	respRequired
)

func run(ctx context.Context, logger *slog.Logger, args []string) error {
	payload, mode, err := buildPayload(args)
	if err != nil {
		return err
	}

	port, err := serial.OpenPort(&serial.Config{Name: portName, Baud: baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %q: %v", portName, err)
	}
	defer port.Close()

	frame := stripd.AppendFrame(nil, payload)
	logger.Debug(
		"sending frame",
		"opcode", payload[0],
		"payload_len", len(payload),
		"frame_len", len(frame))

	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %v", err)
	}

	if mode == respNone {
		return nil
	}

	resp, err := readResponse(ctx, port)
	if err != nil {
		if mode == respOptional {
			logger.Debug("no response within timeout", "error", err)
			return nil
		}
		return fmt.Errorf("no response: %v", err)
	}

	switch resp[0] {
	case stripd.RespOK:
		fmt.Printf("OK %q\n", resp[1:])
	case stripd.RespError:
		fmt.Printf("ERROR %q\n", resp[1:])
		os.Exit(1)
	default:
		fmt.Printf("code=0x%02X body=% X\n", resp[0], resp[1:])
	}
	return nil
}

func buildPayload(args []string) (payload []byte, mode respMode, err error) {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ping":
		return []byte{stripd.OpPing}, respRequired, nil

	case "echo":
		body, err := parseBytes(rest)
		if err != nil {
			return nil, respNone, err
		}
		return append([]byte{stripd.OpEcho}, body...), respRequired, nil

	case "show":
		return []byte{stripd.OpShow}, respNone, nil

	case "clear":
		return []byte{stripd.OpClear}, respNone, nil

	case "brightness":
		if len(rest) != 1 {
			return nil, respNone, errors.New("brightness takes one value")
		}
		b, err := parseByte(rest[0])
		if err != nil {
			return nil, respNone, err
		}
		return []byte{stripd.OpSetBrightness, b}, respNone, nil

	case "pixel":
		if len(rest) != 4 {
			return nil, respNone, errors.New("pixel takes <index> <r> <g> <b>")
		}
		idx, err := strconv.ParseUint(rest[0], 0, 16)
		if err != nil {
			return nil, respNone, fmt.Errorf("bad index %q: %v", rest[0], err)
		}
		rgb, err := parseBytes(rest[1:])
		if err != nil {
			return nil, respNone, err
		}
		payload = []byte{stripd.OpSetPixel}
		payload = binary.BigEndian.AppendUint16(payload, uint16(idx))
		return append(payload, rgb...), respNone, nil

	case "fill":
		if len(rest) != 3 {
			return nil, respNone, errors.New("fill takes <r> <g> <b>")
		}
		rgb, err := parseBytes(rest)
		if err != nil {
			return nil, respNone, err
		}
		total := strips * ledsPerStrip
		payload = make([]byte, 1, 1+total*3)
		payload[0] = stripd.OpSetAll
		for i := 0; i < total; i++ {
			payload = append(payload, rgb...)
		}
		return payload, respOptional, nil

	case "config":
		if len(rest) != 2 {
			return nil, respNone, errors.New("config takes <strips> <leds-per-strip>")
		}
		s, err := parseByte(rest[0])
		if err != nil {
			return nil, respNone, err
		}
		l, err := strconv.ParseUint(rest[1], 0, 16)
		if err != nil {
			return nil, respNone, fmt.Errorf("bad leds-per-strip %q: %v", rest[1], err)
		}
		payload = []byte{stripd.OpConfig, s}
		payload = binary.BigEndian.AppendUint16(payload, uint16(l))
		return payload, respRequired, nil

	default:
		return nil, respNone, fmt.Errorf("unknown command %q", cmd)
	}
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad byte %q: %v", s, err)
	}
	return byte(v), nil
}

func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, len(args))
	for i, s := range args {
		b, err := parseByte(s)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// readResponse decodes one response frame, force-closing the port if the
// peripheral stays silent past the timeout.
func readResponse(ctx context.Context, port io.ReadWriteCloser) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, respTimeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
		}
	}()

	src := stripd.NewUARTSource(port, stripd.UARTOpts{Timeout: respTimeout})
	resp, err := src.Next(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("empty response frame")
	}
	return resp, nil
}
