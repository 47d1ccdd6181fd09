package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/models"
)

// JobHandler processes one delivered job. The handler owns outcome reporting
// (events back to intake); an error return is for queue-level observability
// only and never triggers redelivery by itself.
type JobHandler func(ctx context.Context, job *models.Job) error

// WorkerPool runs a fixed number of polling workers against the queue. Each
// worker processes one job at a time - a job holds an entire browser instance
// for its duration, so throughput scales by instances, not by threads.
type WorkerPool struct {
	manager      *Manager
	handler      JobHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a worker pool with the given handler.
func NewWorkerPool(manager *Manager, handler JobHandler, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		manager:      manager,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop signals all workers to finish their current job and exit.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to spread polling across the interval.
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		time.Sleep(stagger)
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processOne(workerID); err != nil && !errors.Is(err, models.ErrNoMessage) {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing job")
			}
		}
	}
}

// processOne receives and runs a single job. The delivery is deleted whatever
// the handler outcome: failures have already been reported to intake as error
// events, and redelivery is reserved for crashes (visibility timeout expiry),
// not for deterministic failures.
func (wp *WorkerPool) processOne(workerID int) error {
	job, deleteFn, err := wp.manager.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("session_id", job.SessionID).
		Int("worker_id", workerID).
		Msg("Processing job")

	start := time.Now()
	handlerErr := wp.handler(wp.ctx, job)
	duration := time.Since(start)

	if delErr := deleteFn(); delErr != nil {
		wp.logger.Warn().
			Err(delErr).
			Str("session_id", job.SessionID).
			Msg("Failed to delete job after processing")
	}

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("session_id", job.SessionID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return handlerErr
	}

	wp.logger.Info().
		Str("session_id", job.SessionID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")

	return nil
}
