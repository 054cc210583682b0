package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: EventProfileResolved, Data: "x"})

	select {
	case ev := <-ch:
		if ev.Type != EventProfileResolved {
			t.Fatalf("got type %q", ev.Type)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish did not stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// fill the buffer, then keep publishing; extra events drop silently
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: EventProfileFailed})
	}
	if len(ch) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(ch))
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// publishing after unsubscribe must not panic
	b.Publish(Event{Type: EventBatchResolved})
}
