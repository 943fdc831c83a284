package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vocdoni/confidential-polls/api"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/ledger"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	program    *ledger.Program
	queue      *computation.Queue
	clusterKey envelope.PublicKey
	api        *api.API
	mu         sync.Mutex
	host       string
	port       int
}

// NewAPI creates a new APIService instance. Port 0 lets the OS choose an
// available port, reported by HostPort once the service is started.
func NewAPI(program *ledger.Program, queue *computation.Queue, clusterKey envelope.PublicKey,
	host string, port int,
) *APIService {
	return &APIService{
		program:    program,
		queue:      queue,
		clusterKey: clusterKey,
		host:       host,
		port:       port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(_ context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.api != nil {
		return fmt.Errorf("service already running")
	}
	srv, err := api.New(&api.APIConfig{
		Host:       as.host,
		Port:       as.port,
		Program:    as.program,
		Queue:      as.queue,
		ClusterKey: as.clusterKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	if addr, ok := srv.Addr().(*net.TCPAddr); ok {
		as.port = addr.Port
	}
	as.api = srv
	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = as.api.Stop(ctx)
	as.api = nil
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.host, as.port
}
