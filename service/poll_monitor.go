package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/confidential-polls/events"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
)

// PollLister lists the polls to monitor. It is implemented by
// *ledger.Program.
type PollLister interface {
	Polls() ([]*types.Poll, error)
}

// PollMonitor represents a service that watches the polls and emits an event
// each time a poll changes state, such as a voting window opening or closing.
type PollMonitor struct {
	polls    PollLister
	sink     events.Sink
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	states map[string]types.PollState
}

// NewPollMonitor creates a new PollMonitor service. If sink is nil, the
// events are logged.
func NewPollMonitor(polls PollLister, sink events.Sink, interval time.Duration) *PollMonitor {
	if sink == nil {
		sink = events.LogSink{}
	}
	return &PollMonitor{
		polls:    polls,
		sink:     sink,
		interval: interval,
		now:      time.Now,
		states:   make(map[string]types.PollState),
	}
}

// Start begins monitoring the polls. It returns an error if the service is
// already running.
func (pm *PollMonitor) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.cancel != nil {
		return fmt.Errorf("service already running")
	}
	if pm.interval <= 0 {
		return fmt.Errorf("invalid monitor interval %s", pm.interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel
	pm.done = make(chan struct{})
	go pm.monitorPolls(ctx, pm.done)
	return nil
}

// Stop halts the monitoring service.
func (pm *PollMonitor) Stop() {
	pm.mu.Lock()
	cancel, done := pm.cancel, pm.done
	pm.cancel = nil
	pm.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (pm *PollMonitor) monitorPolls(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()
	for {
		pm.check()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check compares the current state of every poll with the last one seen.
// The first time a poll is seen its state is recorded as a transition from
// the empty state.
func (pm *PollMonitor) check() {
	polls, err := pm.polls.Polls()
	if err != nil {
		log.Warnw("failed to list polls", "error", err.Error())
		return
	}
	now := pm.now()
	for _, p := range polls {
		state := p.State(now)
		key := string(p.ID)
		prev, seen := pm.states[key]
		if seen && prev == state {
			continue
		}
		pm.states[key] = state
		log.Debugw("poll state changed", "pollId", p.ID.String(), "from", string(prev), "to", string(state))
		pm.sink.Emit(&events.PollStateChanged{
			Poll:      p.ID,
			From:      prev,
			To:        state,
			Timestamp: now,
		})
	}
}
