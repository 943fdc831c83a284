package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/log"
)

// ComputationService runs the computation executor in the background.
type ComputationService struct {
	executor *computation.Executor
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewComputationService creates the service for the queue. Zero values for
// workers or tick select the executor defaults.
func NewComputationService(queue *computation.Queue, workers int, tick time.Duration) (*ComputationService, error) {
	exec, err := computation.NewExecutor(queue, workers, tick)
	if err != nil {
		return nil, err
	}
	return &ComputationService{executor: exec}, nil
}

// Executor returns the executor run by the service.
func (cs *ComputationService) Executor() *computation.Executor {
	return cs.executor
}

// Start delivers any callback left undelivered by a previous run and starts
// executing the queued computations.
func (cs *ComputationService) Start(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := cs.executor.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start computation executor: %w", err)
	}
	cs.cancel = cancel
	return nil
}

// Stop halts the executor and waits for the running computations.
func (cs *ComputationService) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cancel == nil {
		return
	}
	cs.cancel()
	cs.cancel = nil
	if err := cs.executor.Stop(); err != nil {
		log.Warnw("failed to stop computation executor", "error", err.Error())
	}
}
