package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "node.added", Data: map[string]string{"location": "file:///pkg/a.txt"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: node.added") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"location":"file:///pkg/a.txt"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishNodeEvent_TreeThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger tree.updated.
	b.PublishNodeEvent("added", "file:///pkg/a.txt")
	// Second event immediately should NOT trigger another tree.updated.
	b.PublishNodeEvent("updated", "file:///pkg/b.txt")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	treeCount := 0
	nodeCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "tree.updated") {
				treeCount++
			} else {
				nodeCount++
			}
		default:
			break loop
		}
	}

	if nodeCount != 2 {
		t.Errorf("node events = %d, want 2", nodeCount)
	}
	if treeCount != 1 {
		t.Errorf("tree events = %d, want 1 (throttled)", treeCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "node.updated", Data: map[string]string{"location": "file:///pkg/x.txt"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: node.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "node.updated", Data: map[string]string{"location": "file:///pkg/x.txt"}})
	b.PublishNodeEvent("updated", "file:///pkg/x.txt")
}

func TestPublishNodeEvent_UnknownKindIgnored(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNodeEvent("renamed", "file:///pkg/a.txt")
	b.PublishNodeEvent("deleted", "file:///pkg/a.txt")

	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), "event: node.deleted") {
			t.Errorf("first event = %q, want node.deleted", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte, wait time.Duration) []string {
	time.Sleep(wait)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestTreeUpdatedCountsThrottledChanges(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNodeEvent("added", "file:///pkg/a.txt")
	b.PublishNodeEvent("added", "file:///pkg/b.txt")
	first := drain(ch, 50*time.Millisecond)
	if len(first) != 3 {
		t.Fatalf("messages = %d, want 3: %q", len(first), first)
	}
	if !strings.HasPrefix(first[0], "id: 1\n") || !strings.HasPrefix(first[2], "id: 3\n") {
		t.Errorf("ids not sequential: %q", first)
	}
	if !strings.Contains(first[1], `"changes":1`) {
		t.Errorf("tree.updated = %q, want changes 1", first[1])
	}

	time.Sleep(250 * time.Millisecond)
	b.PublishNodeEvent("deleted", "file:///pkg/a.txt")
	second := drain(ch, 50*time.Millisecond)
	if len(second) != 2 || !strings.Contains(second[1], `"changes":2`) {
		t.Errorf("second burst = %q, want tree.updated with changes 2", second)
	}
}
