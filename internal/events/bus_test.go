package events

import (
	"testing"
	"time"

	"scenesmith/internal/core"
)

func TestBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.OnNotice("hello")

	select {
	case ev := <-ch:
		if ev.EventType() != "notice" {
			t.Errorf("expected notice, got %s", ev.EventType())
		}
		if ev.(Notice).Message != "hello" {
			t.Errorf("unexpected message %q", ev.(Notice).Message)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	stepCh := bus.Subscribe("step")
	allCh := bus.Subscribe()

	key := core.JobKey{Collection: "ep1", Part: 1}
	bus.OnNotice("ignored by stepCh")
	bus.OnStep(core.StepEvent{Key: key, Phase: core.StepPhaseStart, Unit: core.StepUnitPart})

	select {
	case ev := <-stepCh:
		if ev.EventType() != "step" {
			t.Errorf("filtered channel got %s", ev.EventType())
		}
		if ev.(Step).Key != key {
			t.Error("step event lost its key")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for step event")
	}

	got := 0
	for done := false; !done; {
		select {
		case <-allCh:
			got++
		case <-time.After(50 * time.Millisecond):
			done = true
		}
	}
	if got != 2 {
		t.Errorf("unfiltered channel should see both events, got %d", got)
	}
}

func TestBus_DropOnFullBuffer(t *testing.T) {
	bus := New(1)
	defer bus.Close()

	bus.Subscribe() // never drained

	bus.OnNotice("one")
	bus.OnNotice("two")
	bus.OnNotice("three")

	if dropped := bus.Dropped(); dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", dropped)
	}
}

func TestBus_PrioritySubscriberNeverDrops(t *testing.T) {
	bus := New(1)
	defer bus.Close()

	ch := bus.SubscribePriority("notice")

	const sent = 10
	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < sent; i++ {
			bus.OnNotice("n")
		}
	}()

	// Drain slowly; the publisher blocks on the full buffer instead of
	// dropping, so every event arrives.
	got := 0
	for got < sent {
		select {
		case <-ch:
			got++
		case <-time.After(time.Second):
			t.Fatalf("stalled after %d of %d events", got, sent)
		}
	}
	<-published

	if dropped := bus.Dropped(); dropped != 0 {
		t.Errorf("priority subscription dropped %d events", dropped)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("unsubscribed channel should be closed")
	}

	// Publishing after unsubscribe must not panic or block.
	bus.OnNotice("after")
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel should be closed after bus Close")
	}
	bus.OnNotice("no-op")
	bus.Close()
}

func TestBus_StepTimestampDefault(t *testing.T) {
	bus := New(1)
	defer bus.Close()
	ch := bus.Subscribe("step")

	bus.OnStep(core.StepEvent{Unit: core.StepUnitScene})
	ev := <-ch
	if ev.Timestamp().IsZero() {
		t.Error("bus should stamp events missing a timestamp")
	}
}
