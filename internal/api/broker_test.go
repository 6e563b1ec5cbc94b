package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("run-1")
	defer b.Unsubscribe("run-1", ch)

	b.Publish("run-1", Event{Type: "run.completed", Data: map[string]any{"runId": "run-1"}})
	select {
	case evt := <-ch:
		if evt.Type != "run.completed" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}

	// Other topics stay silent.
	b.Publish("run-2", Event{Type: "run.completed"})
	select {
	case evt := <-ch:
		t.Fatalf("cross-topic event leaked: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("run-1")
	b.Unsubscribe("run-1", ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing to a drained topic must not panic.
	b.Publish("run-1", Event{Type: "run.completed"})
}

func TestBrokerSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("run-1")
	defer b.Unsubscribe("run-1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("run-1", Event{Type: "run.completed"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBrokerClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ch := b.Subscribe("run-7")
	b.Publish("run-7", Event{Type: "run.completed", Data: map[string]any{"runId": "run-7"}})

	select {
	case evt := <-ch:
		if evt.Type != "run.completed" || evt.Data["runId"] != "run-7" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived over redis")
	}

	b.Unsubscribe("run-7", ch)
	select {
	case _, open := <-ch:
		if open {
			// a buffered event may still drain; the channel must close after
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}
