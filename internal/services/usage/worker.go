package usage

import (
	"context"
	"sync"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Worker writes usage rows off the request path through a bounded buffer.
// A full buffer drops the row rather than blocking routing.
type Worker struct {
	service  *Service
	tasks    chan models.RecordUsageParams
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewWorker creates a usage recording worker with the specified pool size.
func NewWorker(service *Service, poolSize, bufferSize int) *Worker {
	w := &Worker{
		service: service,
		tasks:   make(chan models.RecordUsageParams, bufferSize),
		stopped: make(chan struct{}),
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// Record queues one attempt for persistence. Satisfies the router's
// UsageRecorder without ever blocking.
func (w *Worker) Record(params models.RecordUsageParams) {
	select {
	case <-w.stopped:
		fiberlog.Warnf("[%s] Worker stopped, cannot submit usage recording task", params.RequestID)
		return
	default:
	}

	select {
	case w.tasks <- params:
	default:
		fiberlog.Warnf("[%s] Usage recording buffer full, dropping task", params.RequestID)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			w.drain()
			return
		case params := <-w.tasks:
			w.record(params)
		}
	}
}

// drain flushes rows already queued at shutdown.
func (w *Worker) drain() {
	for {
		select {
		case params := <-w.tasks:
			w.record(params)
		default:
			return
		}
	}
}

func (w *Worker) record(params models.RecordUsageParams) {
	if _, err := w.service.RecordUsage(context.Background(), params); err != nil {
		fiberlog.Errorf("[%s] Failed to record usage: %v", params.RequestID, err)
	}
}

// Stop gracefully stops the worker pool, flushing queued rows first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.wg.Wait()
	})
}
