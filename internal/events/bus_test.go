package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 4)
	bus.Publish(TopicTask, TaskDispatchedEvent{ID: 7, Handle: "h"})
	bus.Publish(TopicChain, ChainPhaseEvent{Phase: "wave_loop"})

	select {
	case ev := <-ch:
		if ev.EventType() != EventTypeTaskDispatched || ev.TaskID() != 7 {
			t.Errorf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The chain event must not reach the task subscriber.
	select {
	case ev := <-ch:
		t.Errorf("unexpected second event %v", ev)
	default:
	}
}

func TestSubscribeAllCrossesTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)
	bus.Publish(TopicTask, TaskCompletedEvent{ID: 1})
	bus.Publish(TopicReconcile, ReconcileRanEvent{CascadeClosed: 2})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got[ev.EventType()] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	if !got[EventTypeTaskCompleted] || !got[EventTypeReconcileRan] {
		t.Errorf("missing events: %v", got)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	bus.Publish(TopicTask, TaskSkippedEvent{ID: 1})
	bus.Publish(TopicTask, TaskSkippedEvent{ID: 2}) // dropped, buffer full

	ev := <-ch
	if ev.TaskID() != 1 {
		t.Errorf("got %d, want first event", ev.TaskID())
	}
	select {
	case ev := <-ch:
		t.Errorf("expected drop, got %v", ev)
	default:
	}
}

func TestCloseIdempotentAndClosesChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)
	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel should be closed")
	}

	// Publishing and subscribing after close are safe no-ops.
	bus.Publish(TopicTask, TaskSkippedEvent{ID: 3})
	late := bus.Subscribe(TopicTask, 1)
	if _, open := <-late; open {
		t.Error("late subscription should be closed immediately")
	}
}
