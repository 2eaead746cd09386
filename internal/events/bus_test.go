package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	evt := ChangeEvent{Type: EventInstanceChanged, Service: "svc-a", Revision: 1, Timestamp: time.Unix(0, 0)}
	b.Publish(evt)

	select {
	case got := <-ch:
		if got.Service != "svc-a" || got.Revision != 1 {
			t.Errorf("got %+v, want %+v", got, evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", b.SubscriberCount())
	}
	cancel()
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0 after cancel", b.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	var drops int
	b := New(func() { drops++ })
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(ChangeEvent{Type: EventInstanceChanged, Revision: uint64(i)})
	}

	if drops == 0 {
		t.Fatal("expected at least one drop once the subscriber buffer filled")
	}
	// Drain without blocking to confirm the channel still works.
	select {
	case <-ch:
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestPublishNoSubscribersDoesNotBlock(t *testing.T) {
	b := New(nil)
	b.Publish(ChangeEvent{Type: EventServiceRemoved})
}
