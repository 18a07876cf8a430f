package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 10)
	defer unsub()

	b.Publish(NewEvent(KindRealtimeMessage, "payload"))

	select {
	case evt := <-ch:
		if evt.Kind != KindRealtimeMessage {
			t.Errorf("kind = %q, want %q", evt.Kind, KindRealtimeMessage)
		}
		if evt.Payload != "payload" {
			t.Errorf("payload = %v, want payload", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	rtCh, unsub1 := b.Subscribe("rt.", 10)
	defer unsub1()
	netCh, unsub2 := b.Subscribe("network.", 10)
	defer unsub2()

	b.Publish(NewEvent(KindNetworkOnline, nil))

	select {
	case <-netCh:
	case <-time.After(time.Second):
		t.Fatal("network subscriber did not receive event")
	}

	select {
	case evt := <-rtCh:
		t.Errorf("rt subscriber received %q, want nothing", evt.Kind)
	default:
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(NewEvent(KindMessageSent, nil))
	b.Publish(NewEvent(KindNetworkOffline, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 10)
	unsub()

	b.Publish(NewEvent(KindRealtimeMessage, nil))

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("rt.", 1)
	defer unsub()

	// Second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		b.Publish(NewEvent(KindRealtimeMessage, 1))
		b.Publish(NewEvent(KindRealtimeMessage, 2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
