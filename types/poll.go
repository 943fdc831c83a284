package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
)

// Window is the voting window of a poll. Votes are accepted while
// Start <= now < End.
type Window struct {
	Start time.Time `json:"start" cbor:"0,keyasint"`
	End   time.Time `json:"end"   cbor:"1,keyasint"`
}

// Valid reports whether the window closes after it opens.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// TallyStatus tracks the initialization of the sealed tally of a poll.
type TallyStatus uint8

const (
	// TallyPending means the init_tally computation has not landed yet.
	TallyPending TallyStatus = iota
	// TallyReady means the poll holds a sealed zero (or later) tally.
	TallyReady
	// TallyFailed means the init_tally computation aborted.
	TallyFailed
)

var tallyStatusNames = map[TallyStatus]string{
	TallyPending: "pending",
	TallyReady:   "ready",
	TallyFailed:  "failed",
}

func (s TallyStatus) String() string {
	if name, ok := tallyStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s TallyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TallyStatus) UnmarshalText(text []byte) error {
	for k, v := range tallyStatusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown tally status %q", text)
}

// PollState is the lifecycle state of a poll at a given time.
type PollState string

const (
	// PollCreated is a poll whose window has not opened yet.
	PollCreated PollState = "created"
	PollOpen    PollState = "open"
	PollClosed  PollState = "closed"
	// PollFinalized is a poll whose outcome has been revealed.
	PollFinalized PollState = "finalized"
)

// Poll is the public ledger record of a poll. The tally is always sealed
// under the computation owner context and is never exposed through the
// public API.
type Poll struct {
	ID           HexBytes           `json:"id"                     cbor:"0,keyasint"`
	Authority    common.Address     `json:"authority"              cbor:"1,keyasint"`
	Nonce        uint64             `json:"nonce"                  cbor:"2,keyasint"`
	Question     string             `json:"question"               cbor:"3,keyasint"`
	Window       Window             `json:"window"                 cbor:"4,keyasint"`
	Tally        *envelope.Envelope `json:"-"                      cbor:"5,keyasint,omitempty"`
	TallyStatus  TallyStatus        `json:"tallyStatus"            cbor:"6,keyasint"`
	InitID       string             `json:"-"                      cbor:"7,keyasint,omitempty"`
	RevealID     string             `json:"-"                      cbor:"8,keyasint,omitempty"`
	Finalized    bool               `json:"finalized"              cbor:"9,keyasint"`
	Outcome      *bool              `json:"outcome,omitempty"      cbor:"10,keyasint,omitempty"`
	VotesCounted uint64             `json:"votesCounted"           cbor:"11,keyasint"`
	CreatedAt    time.Time          `json:"createdAt"              cbor:"12,keyasint"`
	FinalizedAt  *time.Time         `json:"finalizedAt,omitempty"  cbor:"13,keyasint,omitempty"`
}

// State returns the lifecycle state of the poll at time now.
func (p *Poll) State(now time.Time) PollState {
	switch {
	case p.Finalized:
		return PollFinalized
	case now.Before(p.Window.Start):
		return PollCreated
	case now.Before(p.Window.End):
		return PollOpen
	default:
		return PollClosed
	}
}

// RevealInFlight reports whether a reveal computation has been submitted and
// its callback has not landed yet.
func (p *Poll) RevealInFlight() bool {
	return p.RevealID != "" && !p.Finalized
}

func (p *Poll) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// ReceiptStatus is the state of a vote receipt.
type ReceiptStatus uint8

const (
	// ReceiptPending means the vote computation is queued or running.
	ReceiptPending ReceiptStatus = iota
	// ReceiptCounted means the vote was accumulated into the tally.
	ReceiptCounted
	// ReceiptFailed means the vote computation aborted. The voter may cast
	// again.
	ReceiptFailed
)

var receiptStatusNames = map[ReceiptStatus]string{
	ReceiptPending: "pending",
	ReceiptCounted: "counted",
	ReceiptFailed:  "failed",
}

func (s ReceiptStatus) String() string {
	if name, ok := receiptStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ReceiptStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ReceiptStatus) UnmarshalText(text []byte) error {
	for k, v := range receiptStatusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown receipt status %q", text)
}

// Blocks reports whether a receipt in this status prevents the voter from
// casting again.
func (s ReceiptStatus) Blocks() bool {
	return s == ReceiptPending || s == ReceiptCounted
}

// VoteReceipt marks that a voter has voted on a poll. There is at most one
// receipt per (poll, voter).
type VoteReceipt struct {
	PollID        HexBytes       `json:"pollId"                 cbor:"0,keyasint"`
	Voter         common.Address `json:"voter"                  cbor:"1,keyasint"`
	Status        ReceiptStatus  `json:"status"                 cbor:"2,keyasint"`
	ComputationID string         `json:"computationId"          cbor:"3,keyasint"`
	Attempts      uint32         `json:"attempts"               cbor:"4,keyasint"`
	Reason        string         `json:"reason,omitempty"       cbor:"5,keyasint,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"              cbor:"6,keyasint"`
	UpdatedAt     time.Time      `json:"updatedAt"              cbor:"7,keyasint"`
}
