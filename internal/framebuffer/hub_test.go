package framebuffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"camwatch/internal/device"
)

func TestHubKeepsLatestFrame(t *testing.T) {
	hub := NewHub()
	if _, err := hub.Latest(0); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Latest on empty hub = %v, want ErrNoFrame", err)
	}

	hub.EmitFrame(0, 1, device.Frame{Data: []byte{1}})
	hub.EmitFrame(0, 1, device.Frame{Data: []byte{2}})
	hub.EmitFrame(1, 4, device.Frame{Data: []byte{9}})

	latest, err := hub.Latest(0)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Seq != 2 || latest.Frame.Data[0] != 2 {
		t.Fatalf("latest = seq %d data %v", latest.Seq, latest.Frame.Data)
	}
	if got := hub.Overwritten(0); got != 1 {
		t.Fatalf("Overwritten = %d, want 1", got)
	}
	other, _ := hub.Latest(1)
	if other.Generation != 4 {
		t.Fatalf("slot 1 generation = %d, want 4", other.Generation)
	}

	hub.Clear(0)
	if _, err := hub.Latest(0); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Latest after Clear = %v, want ErrNoFrame", err)
	}
}

func TestHubNextWaitsForNewerFrame(t *testing.T) {
	hub := NewHub()
	hub.EmitFrame(0, 1, device.Frame{Data: []byte{1}})

	got := make(chan Latest, 1)
	go func() {
		latest, err := hub.Next(context.Background(), 0, 1)
		if err == nil {
			got <- latest
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before a newer frame arrived")
	case <-time.After(20 * time.Millisecond):
	}
	hub.EmitFrame(0, 1, device.Frame{Data: []byte{2}})
	select {
	case latest := <-got:
		if latest.Seq != 2 {
			t.Fatalf("Next seq = %d, want 2", latest.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake")
	}
}

func TestHubNextHonoursContext(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := hub.Next(ctx, 3, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want deadline exceeded", err)
	}
}
