package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/util"
)

// PollIDLen is the length of a marshaled PollID.
const PollIDLen = common.AddressLength + 8

// PollID identifies a poll. It is derived from the authority that creates the
// poll and a nonce chosen by that authority, so an authority cannot create two
// polls with the same nonce:
// - Authority (20 bytes)
// - Nonce (8 bytes)
type PollID struct {
	Authority common.Address
	Nonce     uint64
}

// Marshal encodes the PollID to bytes.
func (p *PollID) Marshal() []byte {
	id := make([]byte, PollIDLen)
	copy(id, p.Authority.Bytes())
	binary.BigEndian.PutUint64(id[common.AddressLength:], p.Nonce)
	return id
}

// Unmarshal decodes bytes into the PollID.
func (p *PollID) Unmarshal(data []byte) error {
	if len(data) != PollIDLen {
		return fmt.Errorf("invalid PollID length: %d", len(data))
	}
	p.Authority = common.BytesToAddress(data[:common.AddressLength])
	p.Nonce = binary.BigEndian.Uint64(data[common.AddressLength:])
	return nil
}

// MarshalBinary implements the BinaryMarshaler interface
func (p *PollID) MarshalBinary() (data []byte, err error) {
	return p.Marshal(), nil
}

// UnmarshalBinary implements the BinaryUnmarshaler interface
func (p *PollID) UnmarshalBinary(data []byte) error {
	return p.Unmarshal(data)
}

// String returns a human readable representation of the poll ID.
func (p *PollID) String() string {
	return hex.EncodeToString(p.Marshal())
}

// PollIDFromString parses the hex representation returned by String.
func PollIDFromString(s string) (*PollID, error) {
	b, err := hex.DecodeString(util.TrimHex(s))
	if err != nil {
		return nil, fmt.Errorf("invalid PollID: %w", err)
	}
	p := &PollID{}
	if err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return p, nil
}
