package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/9963KK/aiedu-backend/internal/logger"
)

func TestNewProgressBusUnconfigured(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	bus, err := NewProgressBus(context.Background(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if bus != nil {
		t.Error("expected nil bus when REDIS_ADDR is unset")
	}
}

func TestProgressBusPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	ctx := context.Background()
	bus, err := NewProgressBus(ctx, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if bus == nil {
		t.Fatal("bus is nil despite REDIS_ADDR being set")
	}
	defer bus.Close()

	updates, cancel := bus.Subscribe(ctx)
	defer cancel()

	fraction := 0.5
	sent := ProgressUpdate{MaterialID: "11111111-2222-3333-4444-555555555555", Stage: "mineru_document", Fraction: &fraction}
	bus.Publish(ctx, sent)

	select {
	case got := <-updates:
		if got.MaterialID != sent.MaterialID || got.Stage != sent.Stage {
			t.Errorf("got %+v, want %+v", got, sent)
		}
		if got.Fraction == nil || *got.Fraction != 0.5 {
			t.Errorf("fraction = %v, want 0.5", got.Fraction)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}

func TestProgressBusDropsUndecodableMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	ctx := context.Background()
	bus, err := NewProgressBus(ctx, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	updates, cancel := bus.Subscribe(ctx)
	defer cancel()

	// Garbage straight onto the channel, then a good update.
	mr.Publish(bus.channel, "not json")
	bus.Publish(ctx, ProgressUpdate{MaterialID: "m", Stage: "done"})

	select {
	case got := <-updates:
		if got.Stage != "done" {
			t.Errorf("got %+v, want the decodable update", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}
