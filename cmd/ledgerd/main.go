// Command ledgerd runs a single full node: the HTTP surface of spec.md
// §6.2 on top of storage, the validation pipeline, the mempool, the
// mining-template builder and the peer-sync orchestrator. Grounded on
// the teacher's cmd/ entry points (services wired by constructor
// injection, started behind an errgroup, stopped on SIGINT/SIGTERM).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerd/node/api"
	"github.com/ledgerd/node/config"
	"github.com/ledgerd/node/mempool"
	"github.com/ledgerd/node/netsafety"
	"github.com/ledgerd/node/peeridentity"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/reorg"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/ledgerd/node/storage/sqlstore"
	"github.com/ledgerd/node/sync"
	"github.com/ledgerd/node/templatebuilder"
	"github.com/ledgerd/node/txmodel"
	"github.com/ledgerd/node/ulogger"
	"github.com/ledgerd/node/validator"
)

const identityKeyPath = "ledgerd_identity.pem"

// peerGCInterval is how often the registry sweeps violations older than
// its 86400s GC window, per spec.md §4.11.
const peerGCInterval = 1 * time.Hour

func main() {
	logger := ulogger.New("ledgerd", os.Getenv("LEDGERD_LOG_LEVEL"))
	env := config.LoadEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, env, logger)
	if err != nil {
		logger.Fatalf("storage init failed: %v", err)
	}

	identity, err := peeridentity.LoadOrCreate(identityKeyPath)
	if err != nil {
		logger.Fatalf("identity init failed: %v", err)
	}
	logger.Infof("node identity %s", identity.NodeID)

	val := validator.New(logger, store)
	pool := mempool.New(store)
	builder := templatebuilder.New(pool, store)
	peers := peerregistry.New()
	reorgEngine := reorg.New(store, val, pool)
	orchestrator := sync.New(store, val, reorgEngine, peers)

	resolver := netsafety.New(netsafety.WithPublicNode(env.SelfURL != ""))
	defer resolver.Stop()

	node := &api.Node{
		Logger:   logger,
		Store:    store,
		Val:      val,
		Pool:     pool,
		Builder:  builder,
		Peers:    peers,
		Sync:     orchestrator,
		Identity: identity,
		Decode:   txmodel.Decode,
		Resolver: resolver,
		Version:  "ledgerd/0.1",
		SelfURL:  env.SelfURL,
	}
	router := api.NewRouter(node)

	server := &http.Server{
		Addr:    env.NodeHost + ":" + env.NodePort,
		Handler: router,
	}

	go runPeerGC(ctx, peers, logger)
	if env.BootstrapNode != "" {
		go bootstrap(ctx, node, env.BootstrapNode, logger)
	}

	go func() {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

func openStore(ctx context.Context, env config.Env, logger ulogger.Logger) (storage.Store, error) {
	if env.StorageDriver == "postgres" {
		dsn := "user=" + env.PostgresUser + " password=" + env.PostgresPass +
			" dbname=" + env.DatabaseName + " host=" + env.DatabaseHost + " sslmode=disable"
		return sqlstore.Open(ctx, dsn, logger, txmodel.Decode)
	}
	return memstore.New(), nil
}

// runPeerGC sweeps reputation violations older than the GC window on a
// fixed interval, per spec.md §4.11.
func runPeerGC(ctx context.Context, peers *peerregistry.Registry, logger ulogger.Logger) {
	ticker := time.NewTicker(peerGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			peers.GC(now)
		}
	}
}

// bootstrap runs one pull-sync round against the configured bootstrap
// peer at startup, per spec.md §4.10. It performs no handshake first.
func bootstrap(ctx context.Context, node *api.Node, peerURL string, logger ulogger.Logger) {
	client := &api.HTTPPeerClient{BaseURL: peerURL, Decode: node.Decode, Resolver: node.Resolver}
	if err := node.Sync.PullSync(ctx, client, peerURL); err != nil {
		logger.Warnf("bootstrap pull-sync against %s failed: %v", peerURL, err)
	}
}
