package stripd

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func TestEngineOverUART(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		play   func(t *testing.T, host *hostConn)
	}{
		{
			name: "ping pong",
			play: func(t *testing.T, host *hostConn) {
				host.send(t, []byte{OpPing})
				host.expect(t, append([]byte{RespOK}, "PONG"...))
			},
		},
		{
			name: "echo integrity",
			play: func(t *testing.T, host *hostConn) {
				host.send(t, []byte{OpEcho, 0x01, 0x02, 0x03})
				host.expect(t, []byte{RespOK, 0x01, 0x02, 0x03})
			},
		},
		{
			name:   "set_all size mismatch",
			config: Config{Strips: 1, LEDsPerStrip: 2},
			play: func(t *testing.T, host *hostConn) {
				// 1×2 expects 1+6 bytes; send one short.
				host.send(t, []byte{OpSetAll, 1, 2, 3, 4, 5})
				host.expect(t, append([]byte{RespError}, "SIZE_MISMATCH"...))
			},
		},
		{
			name:   "config rejected then accepted",
			config: Config{Strips: 2, LEDsPerStrip: 4},
			play: func(t *testing.T, host *hostConn) {
				host.send(t, []byte{OpConfig, 0, 0x00, 0x04})
				host.expect(t, append([]byte{RespError}, "INVALID_STRIPS"...))

				host.send(t, []byte{OpConfig, 4, 0x00, 0x08})
				host.expect(t, append([]byte{RespOK}, "CONFIG_CHANGED"...))
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			host := startTestEngine(t, ctx, test.config)
			test.play(t, host)
		})
	}
}

// hostConn is the host's side of a test link.
type hostConn struct {
	conn net.Conn
	src  *UARTSource
}

func (h *hostConn) send(t *testing.T, payload []byte) {
	t.Helper()
	if _, err := h.conn.Write(AppendFrame(nil, payload)); err != nil {
		t.Fatal("error writing frame:", err)
	}
}

func (h *hostConn) expect(t *testing.T, want []byte) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got, err := h.src.Next(ctx)
	if err != nil {
		t.Fatal("error reading response:", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected response (-want +got):\n%s", diff)
	}
}

func startTestEngine(t *testing.T, ctx context.Context, cfg Config) *hostConn {
	t.Helper()

	conn1, conn2 := net.Pipe()

	t.Cleanup(func() {
		t.Log("closing test link pipes")
		conn1.Close()
		conn2.Close()
	})

	engine, err := NewEngine(EngineOpts{
		Display: newRecordingDisplay(),
		Logger:  slogt.New(t),
		Config:  cfg,
	})
	if err != nil {
		t.Fatal("failed to create engine:", err)
	}

	src := NewUARTSource(conn1, UARTOpts{Stats: engine.Stats()})

	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			t.Error("engine run error:", err)
		}
	})

	go func() {
		errCh <- engine.Run(ctx, src)
	}()

	return &hostConn{
		conn: conn2,
		src:  NewUARTSource(conn2, UARTOpts{}),
	}
}
