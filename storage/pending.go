package storage

// Pending returns the pending computation record with the given id, or
// ErrNotFound.
func (s *Storage) Pending(id string) (*PendingComputation, error) {
	pc := &PendingComputation{}
	if err := s.getArtifact(pendingPrefix, []byte(id), pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// PendingComputations returns every computation submitted by the poll
// program whose callback has not been applied yet.
func (s *Storage) PendingComputations() ([]*PendingComputation, error) {
	ids, err := s.listArtifacts(pendingPrefix)
	if err != nil {
		return nil, err
	}
	pcs := make([]*PendingComputation, 0, len(ids))
	for _, id := range ids {
		pc, err := s.Pending(string(id))
		if err != nil {
			return nil, err
		}
		pcs = append(pcs, pc)
	}
	return pcs, nil
}

// Applied returns the applied marker of a computation, or ErrNotFound if its
// callback has not been applied.
func (s *Storage) Applied(id string) (*AppliedComputation, error) {
	a := &AppliedComputation{}
	if err := s.getArtifact(appliedPrefix, []byte(id), a); err != nil {
		return nil, err
	}
	return a, nil
}
