package transcode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
)

// JobRunner processes a single dequeued message.
type JobRunner interface {
	Run(ctx context.Context, msg queue.Message) error
}

// Worker consumes the transcoding queue and hands deliveries to a JobRunner.
// Deliveries are acked after the runner returns regardless of outcome: job
// failures live in the job record, and redelivery is reserved for workers
// that die mid-job.
type Worker struct {
	Queue       queue.Queue
	Runner      JobRunner
	Concurrency int
	Logger      *slog.Logger
	Metrics     *metrics.Recorder

	mu       sync.Mutex
	inFlight map[string]struct{}
}

const defaultConcurrency = 2

// Run consumes deliveries until ctx is cancelled, then drains jobs already
// in flight before returning.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.Queue.Subscribe()
	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	w.logger().Info("worker started", "concurrency", concurrency)

	grp := new(errgroup.Group)
	for i := 0; i < concurrency; i++ {
		grp.Go(func() error {
			for delivery := range sub.Deliveries() {
				// Shutdown must not abort an encode that is already
				// running, so the delivery gets an uncancelled context.
				w.handle(context.WithoutCancel(ctx), sub, delivery)
			}
			return nil
		})
	}
	err := grp.Wait()
	w.logger().Info("worker stopped")
	return err
}

func (w *Worker) handle(ctx context.Context, sub queue.Subscription, delivery queue.Delivery) {
	logger := w.logger().With("job_id", delivery.JobID, "entry_id", delivery.ID)
	if delivery.Redelivered {
		w.metrics().ObserveQueueEvent("redelivered")
		logger.Info("processing redelivered job")
	}
	if !w.beginWork(delivery.JobID) {
		w.metrics().ObserveQueueEvent("duplicate")
		logger.Info("job already in flight, skipping delivery")
		w.ack(sub, delivery, logger)
		return
	}
	defer w.finishWork(delivery.JobID)

	if err := w.Runner.Run(ctx, delivery.Message); err != nil {
		logger.Error("job processing failed", "error", err)
	}
	w.ack(sub, delivery, logger)
}

func (w *Worker) ack(sub queue.Subscription, delivery queue.Delivery, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sub.Ack(ctx, delivery); err != nil {
		logger.Warn("ack failed, delivery may repeat", "error", err)
		return
	}
	w.metrics().ObserveQueueEvent("acked")
}

func (w *Worker) beginWork(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight == nil {
		w.inFlight = make(map[string]struct{})
	}
	if _, busy := w.inFlight[jobID]; busy {
		return false
	}
	w.inFlight[jobID] = struct{}{}
	return true
}

func (w *Worker) finishWork(jobID string) {
	w.mu.Lock()
	delete(w.inFlight, jobID)
	w.mu.Unlock()
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) metrics() *metrics.Recorder {
	if w.Metrics != nil {
		return w.Metrics
	}
	return metrics.Default()
}
