package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"clawgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "hi"})

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "hi" || msg.Timestamp.IsZero() {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_OutboundRouting(t *testing.T) {
	b := New(1, testLogger())
	var got []string
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { got = append(got, m.ChatID+":"+m.Content) })

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "7", Content: "pong"})
	b.SendOutbound(domain.OutboundMessage{Channel: "discord", ChatID: "8", Content: "lost"})

	if len(got) != 1 || got[0] != "7:pong" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestBus_HandlerPanicContained(t *testing.T) {
	b := New(1, testLogger())
	b.OnOutbound("cli", func(domain.OutboundMessage) { panic("boom") })
	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "x"})
}

func TestBus_CloseStopsSubscribers(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestBus_FullQueueDrops(t *testing.T) {
	b := New(1, testLogger())
	b.wait = 10 * time.Millisecond

	b.Publish(domain.InboundMessage{Channel: "cli", Content: "first"})
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "second"})

	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	if msg := <-b.Subscribe(); msg.Content != "first" {
		t.Fatalf("queued message = %q, want first", msg.Content)
	}
}

func TestBus_PublishWaitsForRoom(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "a"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "b"})

	if b.Dropped() != 0 {
		t.Fatal("message dropped while the consumer was draining")
	}
	if msg := <-b.Subscribe(); msg.Content != "b" {
		t.Fatalf("got %q, want b", msg.Content)
	}
}
