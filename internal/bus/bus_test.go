package bus

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicTaskCreated)
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskCreated, TaskEvent{TaskID: "T-001", Title: "fix login", Status: "pending"})

	select {
	case event := <-sub.Ch():
		if event.Topic != TopicTaskCreated {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicTaskCreated)
		}
		te, ok := event.Payload.(TaskEvent)
		if !ok {
			t.Fatalf("payload type = %T, want TaskEvent", event.Payload)
		}
		if te.TaskID != "T-001" {
			t.Fatalf("task id = %q, want T-001", te.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()

	taskSub := b.Subscribe("task.")
	defer b.Unsubscribe(taskSub)

	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(TopicTaskClaimed, TaskEvent{TaskID: "T-002"})
	b.Publish(TopicChatMessage, ChatMessageEvent{Role: "user", Content: "hi"})

	select {
	case event := <-taskSub.Ch():
		if event.Topic != TopicTaskClaimed {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicTaskClaimed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task event")
	}

	// taskSub must not see the chat message.
	select {
	case event := <-taskSub.Ch():
		t.Fatalf("unexpected event on taskSub: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	// allSub sees both.
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d on allSub", i)
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestBus_DropsWhenBufferFull(t *testing.T) {
	b := New()
	sub := b.Subscribe("workloop.")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicWorkLoopRound, WorkLoopEvent{Round: i})
	}

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			if received != defaultBufferSize {
				t.Fatalf("received = %d, want %d", received, defaultBufferSize)
			}
			return
		}
	}
}
