package trigger

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	for _, id := range []string{"u1", "u2", "u3"} {
		d.Emit(context.Background(), NewEvent(TypeCreate, "p", UserRecord{LocalID: id}))
	}

	for _, want := range []string{"u1", "u2", "u3"} {
		select {
		case event := <-sink.Events():
			if event.User.LocalID != want {
				t.Fatalf("got %s, want %s", event.User.LocalID, want)
			}
			if event.EventID == "" || event.Type != TypeCreate {
				t.Fatalf("malformed event %+v", event)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	// Emitting through a nil dispatcher is a no-op.
	d.Emit(context.Background(), NewEvent(TypeDelete, "p", UserRecord{LocalID: "u"}))
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestDropIfFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{block: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), NewEvent(TypeCreate, "p", UserRecord{LocalID: "u"}))
	}
	close(block)
	if d.Dropped() == 0 {
		t.Fatal("expected drops under backpressure")
	}
}

type blockingSink struct {
	block chan struct{}
}

func (s blockingSink) Emit(ctx context.Context, event Event) {
	<-s.block
}
