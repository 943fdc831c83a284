package storage

import (
	"fmt"

	"github.com/vocdoni/confidential-polls/types"
)

// Poll retrieves a poll from the storage.
// It returns nil data and ErrNotFound if the poll is not found.
func (s *Storage) Poll(pollID []byte) (*types.Poll, error) {
	p := &types.Poll{}
	if err := s.getArtifact(pollPrefix, pollID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// HasPoll reports whether a poll with the given id exists.
func (s *Storage) HasPoll(pollID []byte) (bool, error) {
	return s.hasArtifact(pollPrefix, pollID)
}

// SetPoll stores a poll, replacing any previous version.
func (s *Storage) SetPoll(p *types.Poll) error {
	if p == nil {
		return fmt.Errorf("nil poll data")
	}
	return s.setArtifact(pollPrefix, p.ID, p)
}

// ListPolls returns the list of poll IDs stored as a list of byte slices.
func (s *Storage) ListPolls() ([][]byte, error) {
	return s.listArtifacts(pollPrefix)
}
