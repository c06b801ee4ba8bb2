package queue

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Message is the payload handed from the API to the transcoding worker. It
// carries identifiers and the source location; all other job state lives in
// the repository.
type Message struct {
	JobID      string `json:"jobId"`
	VideoID    string `json:"videoId"`
	SourcePath string `json:"sourcePath"`
	BaseURL    string `json:"baseUrl"`
}

// Delivery wraps a Message with its broker entry ID so consumers can
// acknowledge it after processing. Redelivered marks entries that were
// handed out before but never acknowledged.
type Delivery struct {
	Message
	ID          string
	Redelivered bool
}

// Stats reports broker-side queue depth. Queued counts entries in the stream,
// Unacked counts entries delivered to consumers but not yet acknowledged.
type Stats struct {
	Queued  int64 `json:"queued"`
	Unacked int64 `json:"unacked"`
}

// Queue is a durable at-least-once job queue. Deliveries that are never
// acknowledged are handed out again, so consumers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Subscribe() Subscription
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Subscription represents an active consumer on the queue.
type Subscription interface {
	Deliveries() <-chan Delivery
	Ack(ctx context.Context, delivery Delivery) error
	Close()
}

// Validate reports whether the message carries the identifiers a worker needs.
func (m Message) Validate() bool {
	return strings.TrimSpace(m.JobID) != "" && strings.TrimSpace(m.VideoID) != ""
}

// NewMemoryQueue initialises an in-memory queue suitable for tests and
// single-process deployments. Acknowledgements are tracked so Stats reflects
// unacked deliveries, but entries do not survive process restarts.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 32
	}
	return &memoryQueue{
		entries: make(chan Delivery, buffer),
		pending: make(map[string]Message),
	}
}

type memoryQueue struct {
	mu      sync.Mutex
	entries chan Delivery
	pending map[string]Message
	nextID  int64
	closed  bool
}

func (q *memoryQueue) Enqueue(ctx context.Context, msg Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return context.Canceled
	}
	q.nextID++
	delivery := Delivery{Message: msg, ID: memoryEntryID(q.nextID)}
	q.mu.Unlock()

	select {
	case q.entries <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{
		queue:  q,
		cancel: cancel,
		ch:     make(chan Delivery),
	}
	go sub.run(ctx)
	return sub
}

func (q *memoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:  int64(len(q.entries)),
		Unacked: int64(len(q.pending)),
	}, nil
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *memoryQueue) markPending(delivery Delivery) {
	q.mu.Lock()
	q.pending[delivery.ID] = delivery.Message
	q.mu.Unlock()
}

func (q *memoryQueue) ack(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

type memorySubscription struct {
	queue  *memoryQueue
	cancel context.CancelFunc

	once sync.Once
	ch   chan Delivery
}

func (s *memorySubscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *memorySubscription) Ack(ctx context.Context, delivery Delivery) error {
	s.queue.ack(delivery.ID)
	return nil
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *memorySubscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case delivery := <-s.queue.entries:
			s.queue.markPending(delivery)
			select {
			case s.ch <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}
}

func memoryEntryID(n int64) string {
	// Mirrors the shape of a Redis stream ID so log lines look uniform.
	return "0-" + strconv.FormatInt(n, 10)
}
