// Package manager implements the per-chain transfer manager: outbound
// sequencing and rate limiting, inbound attestation counting with
// exactly-once release, peer and transceiver registries, and the
// administrative surface that controls them. All state lives in a
// single storage.Store so every operation commits as one batch.
package manager

import (
	"context"
	"fmt"
	"sync"

	"ntt/internal/custody"
	"ntt/internal/logger"
	"ntt/internal/queue"
	"ntt/internal/registry"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// Emitter hands an encoded protocol message to a transceiver's
// transport. Implementations are free to deliver asynchronously; a nil
// error means the message was accepted for delivery.
type Emitter interface {
	Emit(ctx context.Context, payload []byte) error
}

// Manager coordinates token transfers for a single chain. Operations
// are serialized by an internal mutex; the configuration is cached in
// memory and written through on every change.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	st           *storage.Store
	ledger       custody.Ledger
	peers        *registry.Peers
	transceivers *registry.Transceivers
	inbox        *queue.Inbox
	outbox       *queue.Outbox
	emitters     map[uint8]Emitter
}

// New opens the manager state stored in st. A configuration already on
// disk wins; otherwise init is validated and persisted as the genesis
// configuration. A zero init.Threshold defaults to 1.
func New(st *storage.Store, ledger custody.Ledger, init Config) (*Manager, error) {
	m := &Manager{
		st:           st,
		ledger:       ledger,
		peers:        registry.NewPeers(st),
		transceivers: registry.NewTransceivers(st),
		inbox:        queue.NewInbox(st),
		outbox:       queue.NewOutbox(st),
		emitters:     make(map[uint8]Emitter),
	}

	stored, err := st.Get(configKey)
	if err != nil {
		return nil, fmt.Errorf("load manager config:\n%w", err)
	}

	if stored != nil {
		cfg, err := decodeConfig(stored)
		if err != nil {
			return nil, fmt.Errorf("decode manager config:\n%w", err)
		}
		m.cfg = cfg

		logger.Info("manager loaded",
			"chain", cfg.Chain,
			"mode", cfg.Mode.String(),
			"address", cfg.Address.Short(),
			"nextSequence", cfg.NextSequence)

		return m, nil
	}

	if err := init.validate(); err != nil {
		return nil, fmt.Errorf("invalid manager config:\n%w", err)
	}
	if init.Threshold == 0 {
		init.Threshold = 1
	}

	if err := st.Set(configKey, init.encode()); err != nil {
		return nil, fmt.Errorf("persist manager config:\n%w", err)
	}
	m.cfg = init

	logger.Info("manager initialized",
		"chain", init.Chain,
		"mode", init.Mode.String(),
		"address", init.Address.Short())

	return m, nil
}

// BindEmitter attaches the transport for a transceiver index. Bindings
// are runtime wiring, not persisted state; an unbound transceiver
// simply never emits.
func (m *Manager) BindEmitter(index uint8, e Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitters[index] = e
}

// requireOwner rejects callers other than the current owner.
func (m *Manager) requireOwner(caller types.UniversalAddress) error {
	if caller != m.cfg.Owner {
		return ErrNotOwner
	}

	return nil
}

// requireNotPaused rejects custody-moving operations while paused.
func (m *Manager) requireNotPaused() error {
	if m.cfg.Paused {
		return ErrPaused
	}

	return nil
}

// emitEnabled fans payload out through every enabled transceiver with
// a bound emitter, skipping indexes already set in done. It returns
// done with the newly successful indexes added; failures are logged
// and left unset so a later release attempt retries them.
func (m *Manager) emitEnabled(ctx context.Context, done queue.Bitmap, payload []byte) queue.Bitmap {
	err := m.transceivers.Iterate(func(tr *registry.Transceiver) error {
		if !tr.Enabled || done.Get(tr.Index) {
			return nil
		}

		e, ok := m.emitters[tr.Index]
		if !ok {
			logger.Debug("no emitter bound", "transceiver", tr.Index, "kind", tr.Kind)
			return nil
		}

		if err := e.Emit(ctx, payload); err != nil {
			logger.Warn("emit failed", "transceiver", tr.Index, "kind", tr.Kind, "error", err)
			return nil
		}

		done.Set(tr.Index)

		return nil
	})
	if err != nil {
		logger.Error("iterate transceivers", "error", err)
	}

	return done
}

// fullyEmitted reports whether every enabled transceiver's index is set
// in the bitmap.
func (m *Manager) fullyEmitted(done queue.Bitmap) (bool, error) {
	complete := true

	err := m.transceivers.Iterate(func(tr *registry.Transceiver) error {
		if tr.Enabled && !done.Get(tr.Index) {
			complete = false
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("iterate transceivers:\n%w", err)
	}

	return complete, nil
}
