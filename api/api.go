package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/ledger"
	"github.com/vocdoni/confidential-polls/log"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host       string
	Port       int
	// Program is the poll program served by the API.
	Program    *ledger.Program
	// Queue is used to report the status of the queued computations.
	Queue      *computation.Queue
	// ClusterKey is the public key voters seal their ballots to.
	ClusterKey envelope.PublicKey
	// Now is the clock used to report the poll states. Defaults to
	// time.Now.
	Now        func() time.Time
}

// API type represents the API HTTP server.
type API struct {
	router     *chi.Mux
	program    *ledger.Program
	queue      *computation.Queue
	clusterKey envelope.PublicKey
	now        func() time.Time

	addr   string
	server *http.Server
	ln     net.Listener
}

// New creates a new API instance with the given configuration. The server is
// not listening until Start is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Program == nil {
		return nil, fmt.Errorf("missing poll program")
	}
	if conf.Queue == nil {
		return nil, fmt.Errorf("missing computation queue")
	}
	if conf.ClusterKey.IsZero() {
		return nil, fmt.Errorf("missing cluster public key")
	}
	a := &API{
		program:    conf.Program,
		queue:      conf.Queue,
		clusterKey: conf.ClusterKey,
		now:        conf.Now,
		addr:       net.JoinHostPort(conf.Host, fmt.Sprint(conf.Port)),
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.initRouter()
	return a, nil
}

// Start binds the listener and serves the API in the background.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.addr, err)
	}
	a.ln = ln
	a.server = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infow("starting API server", "addr", ln.Addr().String())
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw(err, "API server stopped")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (a *API) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown(ctx)
	a.server = nil
	return err
}

// Addr returns the address the server is listening on, or nil if it is not
// started.
func (a *API) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
	a.router.Get(InfoEndpoint, a.info)
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "POST")
	a.router.Post(PollsEndpoint, a.newPoll)
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "GET")
	a.router.Get(PollsEndpoint, a.polls)
	log.Infow("register handler", "endpoint", PollEndpoint, "method", "GET")
	a.router.Get(PollEndpoint, a.poll)
	log.Infow("register handler", "endpoint", RetryTallyEndpoint, "method", "POST")
	a.router.Post(RetryTallyEndpoint, a.retryTally)
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	a.router.Post(VotesEndpoint, a.newVote)
	log.Infow("register handler", "endpoint", ReceiptEndpoint, "method", "GET")
	a.router.Get(ReceiptEndpoint, a.receipt)
	log.Infow("register handler", "endpoint", RevealEndpoint, "method", "POST")
	a.router.Post(RevealEndpoint, a.reveal)
	log.Infow("register handler", "endpoint", ComputationEndpoint, "method", "GET")
	a.router.Get(ComputationEndpoint, a.computation)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	if log.Level() == log.LogLevelDebug {
		a.router.Use(middleware.Logger)
	}
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}

// info returns the node information voters need to seal their ballots.
// GET /info
func (a *API) info(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &Info{ClusterPublicKey: a.clusterKey})
}
