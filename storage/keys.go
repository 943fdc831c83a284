package storage

import "fmt"

var clusterKeyKey = []byte("cluster")

type clusterKey struct {
	Private []byte `cbor:"0,keyasint"`
}

// SetClusterKey stores the private key of the computation cluster.
func (s *Storage) SetClusterKey(private []byte) error {
	if len(private) == 0 {
		return fmt.Errorf("empty cluster key")
	}
	return s.setArtifact(keyPrefix, clusterKeyKey, &clusterKey{Private: private})
}

// ClusterKey loads the private key of the computation cluster. Returns
// ErrNotFound if no key was stored yet.
func (s *Storage) ClusterKey() ([]byte, error) {
	k := &clusterKey{}
	if err := s.getArtifact(keyPrefix, clusterKeyKey, k); err != nil {
		return nil, err
	}
	return k.Private, nil
}
