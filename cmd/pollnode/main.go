package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/ledger"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/service"
	"github.com/vocdoni/confidential-polls/storage"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

const envPrefix = "POLLNODE"

type config struct {
	DataDir         string
	InMemory        bool
	Host            string
	Port            int
	LogLevel        string
	LogOutput       string
	Workers         int
	TickInterval    time.Duration
	MonitorInterval time.Duration
}

// loadConfig parses the flags. Every flag can be set with an environment
// variable too, e.g. POLLNODE_LOG_LEVEL for --log.level.
func loadConfig() (*config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	flag.String("datadir", filepath.Join(home, ".pollnode"), "data directory")
	flag.Bool("memdb", false, "keep the storage in memory, nothing survives a restart")
	flag.String("host", "0.0.0.0", "API host to listen on")
	flag.Int("port", 8080, "API port to listen on")
	flag.String("log.level", log.LogLevelInfo, "log level (debug, info, warn, error)")
	flag.String("log.output", "stdout", "log output (stdout, stderr or a file path)")
	flag.Int("workers", computation.DefaultWorkers, "number of concurrent computations")
	flag.Duration("tick", computation.DefaultTickInterval, "interval of the computation executor when idle")
	flag.Duration("monitor.interval", 10*time.Second, "interval of the poll state monitor")
	flag.Parse()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	cfg := &config{
		DataDir:         viper.GetString("datadir"),
		InMemory:        viper.GetBool("memdb"),
		Host:            viper.GetString("host"),
		Port:            viper.GetInt("port"),
		LogLevel:        viper.GetString("log.level"),
		LogOutput:       viper.GetString("log.output"),
		Workers:         viper.GetInt("workers"),
		TickInterval:    viper.GetDuration("tick"),
		MonitorInterval: viper.GetDuration("monitor.interval"),
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// openStorage opens the node storage under the data directory.
func openStorage(cfg *config) (*storage.Storage, error) {
	if cfg.InMemory {
		log.Warnw("using in-memory storage")
		return storage.New(memdb.New()), nil
	}
	database, err := metadb.New(db.TypePebble, filepath.Join(cfg.DataDir, "storage"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return storage.New(database), nil
}

// clusterKey loads the cluster key, generating it on the first run.
func clusterKey(stg *storage.Storage) (*envelope.ClusterKey, error) {
	stored, err := stg.ClusterKey()
	if err == nil {
		return envelope.NewClusterKey(stored)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	key, err := envelope.GenerateClusterKey()
	if err != nil {
		return nil, err
	}
	if err := stg.SetClusterKey(key.Bytes()); err != nil {
		return nil, fmt.Errorf("store cluster key: %w", err)
	}
	log.Infow("cluster key generated", "publicKey", key.PublicKey().String())
	return key, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel, cfg.LogOutput, os.Stderr)

	stg, err := openStorage(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer stg.Close()

	key, err := clusterKey(stg)
	if err != nil {
		log.Fatal(err)
	}
	circ, err := circuit.New(key)
	if err != nil {
		log.Fatal(err)
	}
	registry := computation.NewRegistry()
	if err := registry.Register(circ.Definitions()...); err != nil {
		log.Fatal(err)
	}
	queue, err := computation.NewQueue(stg, registry)
	if err != nil {
		log.Fatal(err)
	}
	program, err := ledger.New(stg, queue)
	if err != nil {
		log.Fatal(err)
	}
	if err := queue.RegisterSlot(program.Slot()); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := program.Reconcile(ctx); err != nil {
		log.Fatal(err)
	}

	// the executor starts first so callbacks left undelivered by the previous
	// run are applied before new requests arrive
	computations, err := service.NewComputationService(queue, cfg.Workers, cfg.TickInterval)
	if err != nil {
		log.Fatal(err)
	}
	if err := computations.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer computations.Stop()

	monitor := service.NewPollMonitor(program, nil, cfg.MonitorInterval)
	if err := monitor.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer monitor.Stop()

	apiService := service.NewAPI(program, queue, key.PublicKey(), cfg.Host, cfg.Port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer apiService.Stop()

	host, port := apiService.HostPort()
	log.Infow("poll node started",
		"host", host,
		"port", port,
		"datadir", cfg.DataDir,
		"clusterKey", key.PublicKey().String(),
		"pending", queue.Pending(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Infow("shutting down")
}
