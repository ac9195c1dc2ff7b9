package stripd

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeSlotLink scripts chip-select-bounded transactions: each Read pops one
// queued request (possibly empty), each Write records one response slot.
type fakeSlotLink struct {
	requests  [][]byte
	responses [][]byte
}

func (l *fakeSlotLink) Read(p []byte) (int, error) {
	if len(l.requests) == 0 {
		return 0, io.EOF
	}
	tx := l.requests[0]
	l.requests = l.requests[1:]
	return copy(p, tx), nil
}

func (l *fakeSlotLink) Write(p []byte) (int, error) {
	l.responses = append(l.responses, append([]byte(nil), p...))
	return len(p), nil
}

type fixedStatus Status

func (s fixedStatus) Status() Status { return Status(s) }

func TestSPISourceForwardsTransactions(t *testing.T) {
	link := &fakeSlotLink{
		requests: [][]byte{
			{OpPing},
			{}, // empty chip-select window
			{OpSetBrightness, 99},
		},
	}
	stats := NewStats()
	src := NewSPISource(link, SPIOpts{
		Status: fixedStatus{},
		Stats:  stats,
	})

	ctx := context.Background()

	got, err := src.Next(ctx)
	if err != nil {
		t.Fatal("error reading first transaction:", err)
	}
	if diff := cmp.Diff([]byte{OpPing}, got); diff != "" {
		t.Errorf("unexpected payload (-want +got):\n%s", diff)
	}

	// The empty transaction is counted and skipped transparently.
	got, err = src.Next(ctx)
	if err != nil {
		t.Fatal("error reading second transaction:", err)
	}
	if diff := cmp.Diff([]byte{OpSetBrightness, 99}, got); diff != "" {
		t.Errorf("unexpected payload (-want +got):\n%s", diff)
	}
	if n := stats.ZeroPayloads.Load(); n != 1 {
		t.Errorf("expected 1 zero payload, got %d", n)
	}

	// One status block per transaction, empty ones included.
	if len(link.responses) != 3 {
		t.Fatalf("expected 3 status blocks, got %d", len(link.responses))
	}

	if _, err := src.Next(ctx); err != io.EOF {
		t.Errorf("expected EOF at end of script, got %v", err)
	}
}

func TestStatusBlockLayout(t *testing.T) {
	st := Status{
		UptimeMillis:   1000,
		FramesRendered: 2,
		SetAllCommands: 3,
		Packets:        4,
		ZeroPayloads:   5,
		LastShowMicros: 6,
		BytesReceived:  7,
		Strips:         8,
		LEDsPerStrip:   140,
	}

	b := AppendStatus(nil, st)
	if len(b) != StatusBlockLen {
		t.Fatalf("expected %d-byte status block, got %d", StatusBlockLen, len(b))
	}
	if diff := cmp.Diff([]byte("LEDS"), b[:4]); diff != "" {
		t.Errorf("unexpected magic (-want +got):\n%s", diff)
	}

	want := []uint32{1000, 2, 3, 4, 5, 6, 7, 8, 140}
	for i, w := range want {
		off := 4 + i*4
		if got := binary.LittleEndian.Uint32(b[off : off+4]); got != w {
			t.Errorf("field %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestEngineStatusSnapshot(t *testing.T) {
	engine, _, rw := newTestEngine(t, Config{Strips: 2, LEDsPerStrip: 3})

	engine.handle([]byte{OpPing}, rw)
	engine.handle(nil, rw)

	st := engine.Status()
	if st.Packets != 1 {
		t.Errorf("expected 1 packet, got %d", st.Packets)
	}
	if st.ZeroPayloads != 1 {
		t.Errorf("expected 1 zero payload, got %d", st.ZeroPayloads)
	}
	if st.BytesReceived != 1 {
		t.Errorf("expected 1 byte received, got %d", st.BytesReceived)
	}
	if st.Strips != 2 || st.LEDsPerStrip != 3 {
		t.Errorf("unexpected configuration in status: %d×%d", st.Strips, st.LEDsPerStrip)
	}
}
