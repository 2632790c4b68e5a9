package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

// These tests need a live server; set YACALL_TEST_REDIS_ADDR to run them.
func testChannel(t *testing.T, name string) *Channel {
	t.Helper()
	addr := os.Getenv("YACALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YACALL_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, Options{Addr: addr})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewChannel(client, name)
}

func TestChannel_EchoesToEverySubscriber(t *testing.T) {
	ch := testChannel(t, "yacall-test-"+time.Now().Format("150405.000000"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := ch.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := ch.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	frame := `{"kind":"hangup","targetId":"bob"}`
	if err := ch.Publish(ctx, []byte(frame)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, sub := range []<-chan []byte{a, b} {
		select {
		case got := <-sub:
			if string(got) != frame {
				t.Fatalf("got %s", got)
			}
		case <-ctx.Done():
			t.Fatalf("frame not delivered")
		}
	}
}

func TestChannel_CancelClosesSubscription(t *testing.T) {
	ch := testChannel(t, "yacall-test-cancel")
	ctx, cancel := context.WithCancel(context.Background())
	frames, err := ch.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-frames:
		if ok {
			t.Fatalf("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription open after cancel")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Connect(ctx, Options{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("Connect to closed port succeeded")
	}
}
