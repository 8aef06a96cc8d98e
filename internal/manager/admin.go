package manager

import (
	"fmt"

	"ntt/internal/logger"
	"ntt/internal/queue"
	"ntt/internal/ratelimit"
	"ntt/internal/registry"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// maxKindLen bounds the transceiver kind label.
const maxKindLen = 32

// storeConfig persists cfg and swaps it into the cache.
func (m *Manager) storeConfig(cfg Config) error {
	if err := m.st.Set(configKey, cfg.encode()); err != nil {
		return fmt.Errorf("persist manager config:\n%w", err)
	}
	m.cfg = cfg

	return nil
}

// SetPeer registers or updates the manager peer for a chain. An
// existing peer keeps its inbound pool: only the limit is replaced,
// with the stored capacity re-clamped on the next read.
func (m *Manager) SetPeer(caller types.UniversalAddress, chain types.ChainID, peerManager types.UniversalAddress, decimals uint8, inboundLimit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if chain == 0 || chain == m.cfg.Chain || peerManager.IsZero() {
		return fmt.Errorf("chain %d:\n%w", chain, ErrInvalidPeer)
	}

	peer, err := m.peers.Get(chain)
	if err != nil {
		return fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		peer = &registry.Peer{
			Manager:  peerManager,
			Decimals: decimals,
			Inbound:  ratelimit.New(inboundLimit),
		}
	} else {
		peer.Manager = peerManager
		peer.Decimals = decimals
		peer.Inbound.SetLimit(inboundLimit)
	}

	if err := m.peers.Put(chain, peer); err != nil {
		return fmt.Errorf("persist peer:\n%w", err)
	}

	logger.Info("peer set",
		"chain", chain,
		"manager", peerManager.Short(),
		"decimals", decimals,
		"inboundLimit", inboundLimit)

	return nil
}

// RegisterTransceiver assigns the next free index to a new transceiver
// and enables it. Indexes are never reused; kind is a short transport
// label such as "wormhole".
func (m *Manager) RegisterTransceiver(caller types.UniversalAddress, kind string) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return 0, err
	}
	if kind == "" || len(kind) > maxKindLen {
		return 0, fmt.Errorf("invalid transceiver kind %q", kind)
	}

	index := m.cfg.NextTransceiver
	if int(index) >= queue.MaxTransceivers {
		return 0, fmt.Errorf("%d transceivers:\n%w", index, ErrTooManyTransceivers)
	}

	tr := &registry.Transceiver{Index: index, Kind: kind, Enabled: true}

	newCfg := m.cfg
	newCfg.NextTransceiver = index + 1

	pairs := []storage.KeyValue{m.transceivers.KV(tr), newCfg.kv()}
	if err := m.st.SetBatch(pairs); err != nil {
		return 0, fmt.Errorf("persist transceiver:\n%w", err)
	}
	m.cfg = newCfg

	logger.Info("transceiver registered", "index", index, "kind", kind)

	return index, nil
}

// SetTransceiverEnabled toggles a transceiver. Disabling is refused
// when it would leave fewer enabled transceivers than the threshold.
func (m *Manager) SetTransceiverEnabled(caller types.UniversalAddress, index uint8, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}

	tr, err := m.transceivers.Get(index)
	if err != nil {
		return fmt.Errorf("load transceiver:\n%w", err)
	}
	if tr == nil {
		return fmt.Errorf("index %d:\n%w", index, ErrInvalidTransceiverIndex)
	}
	if tr.Enabled == enabled {
		return fmt.Errorf("transceiver %d:\n%w", index, ErrAlreadyInState)
	}

	if !enabled {
		count, err := m.transceivers.EnabledCount()
		if err != nil {
			return fmt.Errorf("count transceivers:\n%w", err)
		}
		if count-1 < int(m.cfg.Threshold) {
			return fmt.Errorf("disabling %d leaves %d enabled, threshold %d:\n%w",
				index, count-1, m.cfg.Threshold, ErrThresholdTooHigh)
		}
	}

	tr.Enabled = enabled
	if err := m.transceivers.Put(tr); err != nil {
		return fmt.Errorf("persist transceiver:\n%w", err)
	}

	logger.Info("transceiver toggled", "index", index, "enabled", enabled)

	return nil
}

// SetTransceiverPeer registers the address a transceiver trusts as its
// counterpart on a remote chain.
func (m *Manager) SetTransceiverPeer(caller types.UniversalAddress, index uint8, chain types.ChainID, addr types.UniversalAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}

	tr, err := m.transceivers.Get(index)
	if err != nil {
		return fmt.Errorf("load transceiver:\n%w", err)
	}
	if tr == nil {
		return fmt.Errorf("index %d:\n%w", index, ErrInvalidTransceiverIndex)
	}
	if chain == 0 || addr.IsZero() {
		return fmt.Errorf("chain %d:\n%w", chain, ErrInvalidPeer)
	}

	if err := m.transceivers.PutPeer(index, chain, addr); err != nil {
		return fmt.Errorf("persist transceiver peer:\n%w", err)
	}

	logger.Info("transceiver peer set", "index", index, "chain", chain, "peer", addr.Short())

	return nil
}

// SetThreshold changes the attestation count required to release
// inbound transfers. It must stay within [1, enabled transceivers].
func (m *Manager) SetThreshold(caller types.UniversalAddress, threshold uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if threshold == 0 {
		return ErrZeroThreshold
	}

	count, err := m.transceivers.EnabledCount()
	if err != nil {
		return fmt.Errorf("count transceivers:\n%w", err)
	}
	if int(threshold) > count {
		return fmt.Errorf("threshold %d, %d enabled:\n%w", threshold, count, ErrThresholdTooHigh)
	}

	newCfg := m.cfg
	newCfg.Threshold = threshold
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	logger.Info("threshold set", "threshold", threshold)

	return nil
}

// SetOutboundLimit replaces the outbound rate limit. Stored capacity is
// kept and re-clamped against the new limit on the next read.
func (m *Manager) SetOutboundLimit(caller types.UniversalAddress, limit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}

	newCfg := m.cfg
	newCfg.Outbound.SetLimit(limit)
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	logger.Info("outbound limit set", "limit", limit)

	return nil
}

// SetInboundLimit replaces the inbound rate limit for one peer chain.
func (m *Manager) SetInboundLimit(caller types.UniversalAddress, chain types.ChainID, limit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}

	peer, err := m.peers.Get(chain)
	if err != nil {
		return fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return fmt.Errorf("chain %d:\n%w", chain, ErrNoPeerRegistered)
	}

	peer.Inbound.SetLimit(limit)
	if err := m.peers.Put(chain, peer); err != nil {
		return fmt.Errorf("persist peer:\n%w", err)
	}

	logger.Info("inbound limit set", "chain", chain, "limit", limit)

	return nil
}

// Pause blocks transfer, release, cancel and redeem. Attestations keep
// accumulating while paused.
func (m *Manager) Pause(caller types.UniversalAddress) error {
	return m.setPaused(caller, true)
}

// Unpause lifts a pause.
func (m *Manager) Unpause(caller types.UniversalAddress) error {
	return m.setPaused(caller, false)
}

func (m *Manager) setPaused(caller types.UniversalAddress, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	authorized := caller == m.cfg.Owner ||
		(!m.cfg.Pauser.IsZero() && caller == m.cfg.Pauser)
	if !authorized {
		return ErrNotPauser
	}
	if m.cfg.Paused == paused {
		return fmt.Errorf("paused=%t:\n%w", paused, ErrAlreadyInState)
	}

	newCfg := m.cfg
	newCfg.Paused = paused
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	if paused {
		logger.Warn("manager paused", "caller", caller.Short())
	} else {
		logger.Info("manager unpaused", "caller", caller.Short())
	}

	return nil
}

// SetPauser grants pause rights to an address; the zero address clears
// the role. The owner can always pause.
func (m *Manager) SetPauser(caller, pauser types.UniversalAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}

	newCfg := m.cfg
	newCfg.Pauser = pauser
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	logger.Info("pauser set", "pauser", pauser.Short())

	return nil
}

// TransferOwnership starts a two-step ownership handover. The current
// owner stays in control until the new owner claims.
func (m *Manager) TransferOwnership(caller, newOwner types.UniversalAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return fmt.Errorf("new owner is zero")
	}

	newCfg := m.cfg
	newCfg.PendingOwner = newOwner
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	logger.Info("ownership transfer started", "pendingOwner", newOwner.Short())

	return nil
}

// ClaimOwnership completes a pending handover when called by the
// pending owner, or cancels it when called by the current owner.
func (m *Manager) ClaimOwnership(caller types.UniversalAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.PendingOwner.IsZero() {
		return ErrInvalidPendingOwner
	}

	newCfg := m.cfg

	switch caller {
	case m.cfg.PendingOwner:
		newCfg.Owner = m.cfg.PendingOwner
		newCfg.PendingOwner = types.UniversalAddress{}
		if err := m.storeConfig(newCfg); err != nil {
			return err
		}

		logger.Info("ownership claimed", "owner", caller.Short())

	case m.cfg.Owner:
		newCfg.PendingOwner = types.UniversalAddress{}
		if err := m.storeConfig(newCfg); err != nil {
			return err
		}

		logger.Info("ownership transfer cancelled")

	default:
		return ErrInvalidPendingOwner
	}

	return nil
}

// TransferOwnershipOneStep hands ownership over immediately, bypassing
// the claim step. Any pending two-step handover is dropped.
func (m *Manager) TransferOwnershipOneStep(caller, newOwner types.UniversalAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return fmt.Errorf("new owner is zero")
	}

	newCfg := m.cfg
	newCfg.Owner = newOwner
	newCfg.PendingOwner = types.UniversalAddress{}
	if err := m.storeConfig(newCfg); err != nil {
		return err
	}

	logger.Info("ownership transferred", "owner", newOwner.Short())

	return nil
}
