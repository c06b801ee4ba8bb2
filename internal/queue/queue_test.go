package queue

import (
	"context"
	"testing"
	"time"
)

func TestMessageValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{name: "complete", msg: Message{JobID: "j1", VideoID: "v1", SourcePath: "/tmp/in.mp4"}, want: true},
		{name: "missing job ID", msg: Message{VideoID: "v1"}, want: false},
		{name: "missing video ID", msg: Message{JobID: "j1"}, want: false},
		{name: "whitespace IDs", msg: Message{JobID: "  ", VideoID: "v1"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.Validate(); got != tc.want {
				t.Fatalf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMemoryQueueDeliversAndTracksAcks(t *testing.T) {
	queue := NewMemoryQueue(4)
	t.Cleanup(func() {
		_ = queue.Close()
	})

	msg := Message{JobID: "job-1", VideoID: "video-1", SourcePath: "/uploads/video-1.mp4"}
	if err := queue.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queued != 1 || stats.Unacked != 0 {
		t.Fatalf("unexpected stats before subscribe: %+v", stats)
	}

	sub := queue.Subscribe()
	t.Cleanup(sub.Close)

	var delivery Delivery
	select {
	case delivery = <-sub.Deliveries():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	if delivery.Message != msg {
		t.Fatalf("unexpected message: %+v", delivery.Message)
	}
	if delivery.ID == "" {
		t.Fatalf("delivery is missing its entry ID")
	}

	stats, err = queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queued != 0 || stats.Unacked != 1 {
		t.Fatalf("unexpected stats before ack: %+v", stats)
	}

	if err := sub.Ack(context.Background(), delivery); err != nil {
		t.Fatalf("ack: %v", err)
	}
	stats, err = queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Unacked != 0 {
		t.Fatalf("expected 0 unacked after ack, got %d", stats.Unacked)
	}
}

func TestMemoryQueueRejectsEnqueueAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := queue.Enqueue(context.Background(), Message{JobID: "j1", VideoID: "v1"})
	if err == nil {
		t.Fatalf("expected enqueue after close to fail")
	}
}

func TestMemorySubscriptionCloseDrainsChannel(t *testing.T) {
	queue := NewMemoryQueue(1)
	t.Cleanup(func() {
		_ = queue.Close()
	})

	sub := queue.Subscribe()
	sub.Close()

	select {
	case _, ok := <-sub.Deliveries():
		if ok {
			t.Fatalf("expected channel to be closed without deliveries")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
