package worker

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/metrics"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

var logg = logger.New()

// Worker archives the change feed into the events audit table and runs the
// periodic story sweep. It is the only component that ever deletes expired
// stories; readers just stop seeing them.
type Worker struct {
	store         store.StoreInterface
	reader        appkafka.KafkaReader
	workerCount   int
	jobQueueSize  int
	sweepInterval time.Duration
	now           func() time.Time
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(store store.StoreInterface, reader appkafka.KafkaReader, workerCount, jobQueueSize int, sweepInterval time.Duration) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Worker{
		store:         store,
		reader:        reader,
		workerCount:   workerCount,
		jobQueueSize:  jobQueueSize,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Run starts message reading, concurrent archiving and the story sweep.
func (w *Worker) Run(ctx context.Context) {
	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan []byte, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweepLoop(ctx)
	}()

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- []byte) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			select {
			case jobs <- msg.Value:
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				logg.Info("worker", "Queue full, waiting to enqueue Kafka message")
			}
		}
	}
}

// processLoop validates envelopes and archives them. The raw bytes are
// stored as read so the audit trail survives schema evolution; decoding is
// only a sanity gate.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-jobs:
			if !ok {
				return
			}

			if _, err := models.DecodeEvent(data); err != nil {
				logg.Error("worker", "Invalid change event on feed, skipping", err)
				continue
			}

			if err := w.store.SaveRawEvent(data); err != nil {
				logg.Error("worker", "Failed to archive change event", err)
				continue
			}
			metrics.EventsArchived.Inc()
		}
	}
}

// sweepLoop periodically deletes stories long past their visibility window.
// The cutoff trails the window by a full extra period so a sweep can never
// race a reader near the expiry boundary.
func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := w.now().Add(-2 * models.StoryActiveWindow)
			n, err := w.store.DeleteStoriesBefore(cutoff)
			if err != nil {
				logg.Error("worker", "Story sweep failed", err)
				continue
			}
			if n > 0 {
				metrics.StoriesSwept.Add(float64(n))
				logg.Info("worker", "Swept "+strconv.Itoa(n)+" expired stories")
			}
		}
	}
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader and the store session.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}

	logg.Info("worker", "Closing store session")
	w.store.Close()
	return nil
}
