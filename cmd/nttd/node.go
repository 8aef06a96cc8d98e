package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ntt/internal/api"
	"ntt/internal/custody"
	"ntt/internal/logger"
	"ntt/internal/manager"
	"ntt/internal/queue"
	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// Node wires the storage, ledger, manager, verifier, and HTTP API of one
// running manager instance.
type Node struct {
	cfg      *Config
	storage  *storage.Store
	ledger   *custody.AccountLedger
	manager  *manager.Manager
	verifier api.Verifier
	api      *api.Server
}

// NewNode creates and initializes a node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	n.initLedger()

	if err := n.initManager(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initVerifier(); err != nil {
		n.Close()
		return nil, err
	}

	n.initEmitters()
	n.initAPI()

	return n, nil
}

// initStorage opens the pebble store under the data directory.
func (n *Node) initStorage() error {
	dbPath := n.cfg.DataPath + "/db"

	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	st, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = st

	return nil
}

// initLedger attaches the account ledger to the store.
func (n *Node) initLedger() {
	n.ledger = custody.NewAccountLedger(n.storage)
}

// initManager opens the manager state, seeding it from the flags when
// the data directory is fresh.
func (n *Node) initManager() error {
	mgr, err := manager.New(n.storage, n.ledger, manager.Config{
		Address:       n.cfg.managerAddr,
		Chain:         types.ChainID(n.cfg.Chain),
		Mode:          n.cfg.mode,
		Token:         n.cfg.tokenAddr,
		TokenDecimals: uint8(n.cfg.TokenDecimals),
		Custody:       n.cfg.custodyAddr,
		Owner:         n.cfg.ownerAddr,
		Pauser:        n.cfg.pauserAddr,
		Outbound:      ratelimit.New(n.cfg.OutboundLimit),
	})
	if err != nil {
		return fmt.Errorf("init manager:\n%w", err)
	}

	n.manager = mgr

	return nil
}

// initVerifier builds the attestation verifier from the configured
// attestor keys. Without keys or -insecure-attest the node runs with no
// verifier and the attest route reports unavailable.
func (n *Node) initVerifier() error {
	v, err := buildVerifier(n.cfg)
	if err != nil {
		return fmt.Errorf("init verifier:\n%w", err)
	}

	// Keep the interface nil when no verifier is configured; a typed
	// nil would defeat the API's nil check.
	if v != nil {
		n.verifier = v
	}

	return nil
}

// initEmitters binds a transport to every transceiver index: a webhook
// emitter where one is configured, the log emitter otherwise. Binding
// all indexes up front means a transceiver registered over the API
// starts emitting without a restart.
func (n *Node) initEmitters() {
	for i := 0; i < queue.MaxTransceivers; i++ {
		index := uint8(i)

		if url, ok := n.cfg.webhooks[index]; ok {
			n.manager.BindEmitter(index, newWebhookEmitter(index, url))
			continue
		}

		n.manager.BindEmitter(index, &logEmitter{index: index})
	}
}

// initAPI builds the HTTP server.
func (n *Node) initAPI() {
	n.api = api.New(n.cfg.HTTPAddress, n.manager, n.verifier)
}

// Run starts the HTTP API and blocks until a shutdown signal.
func (n *Node) Run() error {
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("api listening", "address", n.cfg.HTTPAddress)

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close releases the node's resources in reverse dependency order.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
