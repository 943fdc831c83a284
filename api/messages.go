package api

import (
	"encoding/hex"
	"fmt"

	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/types"
)

// The messages below are signed with the Ethereum personal message scheme
// (see crypto/ethereum) to authenticate the requester of each operation.

// NewPollMessage returns the message the authority signs to create a poll.
func NewPollMessage(nonce uint64, question string, start, end int64) []byte {
	return []byte(fmt.Sprintf("poll:%d:%s:%d:%d", nonce, question, start, end))
}

// VoteMessage returns the message the voter signs to cast a ballot. The
// ballot nonce binds the signature to a single ballot.
func VoteMessage(pollID types.HexBytes, ballot *envelope.Envelope) []byte {
	var nonce []byte
	if ballot != nil {
		nonce = ballot.Nonce
	}
	return []byte(fmt.Sprintf("vote:%x:%s", []byte(pollID), hex.EncodeToString(nonce)))
}

// RevealMessage returns the message the authority signs to reveal the
// outcome of a poll.
func RevealMessage(pollID types.HexBytes) []byte {
	return []byte(fmt.Sprintf("reveal:%x", []byte(pollID)))
}

// RetryTallyMessage returns the message the authority signs to requeue the
// initialization of a poll tally.
func RetryTallyMessage(pollID types.HexBytes) []byte {
	return []byte(fmt.Sprintf("retry-tally:%x", []byte(pollID)))
}
