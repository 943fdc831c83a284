// Package events defines the audit events emitted by the poll program. Events
// are observational: they are emitted after the state change they describe
// has been committed, and losing one never affects the ledger.
package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
)

// Event is an audit event.
type Event interface {
	EventName() string
}

// VoteCast is emitted when a vote is accepted and queued.
type VoteCast struct {
	Poll      types.HexBytes `json:"poll"`
	Voter     common.Address `json:"voter"`
	Timestamp time.Time      `json:"timestamp"`
}

func (*VoteCast) EventName() string { return "voteCast" }

// VoteFinalized is emitted when the outcome of a poll is revealed.
type VoteFinalized struct {
	Poll       types.HexBytes `json:"poll"`
	Outcome    bool           `json:"outcome"`
	TotalVotes uint64         `json:"totalVotes"`
}

func (*VoteFinalized) EventName() string { return "voteFinalized" }

// PollStateChanged is emitted by the poll monitor when it observes a poll
// moving to another lifecycle state.
type PollStateChanged struct {
	Poll      types.HexBytes  `json:"poll"`
	From      types.PollState `json:"from"`
	To        types.PollState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

func (*PollStateChanged) EventName() string { return "pollStateChanged" }

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// LogSink writes events to the node log.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(e Event) {
	switch ev := e.(type) {
	case *VoteCast:
		log.Infow("vote cast", "poll", ev.Poll.String(), "voter", ev.Voter.Hex(), "timestamp", ev.Timestamp)
	case *VoteFinalized:
		log.Infow("vote finalized", "poll", ev.Poll.String(), "outcome", ev.Outcome, "totalVotes", ev.TotalVotes)
	case *PollStateChanged:
		log.Infow("poll state changed", "poll", ev.Poll.String(), "from", string(ev.From), "to", string(ev.To))
	default:
		log.Infow("event", "name", e.EventName())
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Multi fans events out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
