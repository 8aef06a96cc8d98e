package manager

import (
	"fmt"

	"ntt/internal/queue"
	"ntt/internal/registry"
	"ntt/internal/types"
)

// Status is a point-in-time snapshot of the manager for operators.
type Status struct {
	Chain               types.ChainID          // Chain is the chain this manager serves
	Address             types.UniversalAddress // Address is the manager's universal address
	Token               types.UniversalAddress // Token is the managed token
	TokenDecimals       uint8                  // TokenDecimals is the token's local precision
	Mode                types.Mode             // Mode is the custody mode
	Paused              bool                   // Paused reports the pause switch
	Threshold           uint8                  // Threshold is the attestation threshold
	Transceivers        int                    // Transceivers counts registered transceivers
	EnabledTransceivers int                    // EnabledTransceivers counts enabled ones
	Peers               int                    // Peers counts registered peer chains
	NextSequence        uint64                 // NextSequence is the next outbound sequence
	OutboundLimit       uint64                 // OutboundLimit is the outbound pool limit
	OutboundCapacity    uint64                 // OutboundCapacity is the capacity right now
	Owner               types.UniversalAddress // Owner is the current owner
	Pauser              types.UniversalAddress // Pauser is the pause delegate, zero when unset
	PendingOwner        types.UniversalAddress // PendingOwner is a pending handover, zero when none
}

// InboxStatus describes one inbound transfer's consensus and release
// progress.
type InboxStatus struct {
	Votes     int                    // Votes is the number of distinct attestations
	Threshold uint8                  // Threshold is the current required count
	Approved  bool                   // Approved means Votes has reached Threshold
	Executed  bool                   // Executed means the transfer was released
	Queued    bool                   // Queued means release waits for inbound capacity
	ReleaseAt int64                  // ReleaseAt is when a queued release may retry
	Sender    types.UniversalAddress // Sender is the source-chain sender
	Recipient types.UniversalAddress // Recipient is the local recipient
	Amount    types.TrimmedAmount    // Amount is the trimmed transfer amount
}

// Peer returns the registered peer for a chain, nil when none exists.
func (m *Manager) Peer(chain types.ChainID) (*registry.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.peers.Get(chain)
}

// Transceiver returns the transceiver at index, nil when unregistered.
func (m *Manager) Transceiver(index uint8) (*registry.Transceiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transceivers.Get(index)
}

// TransceiverPeer returns the peer a transceiver trusts on a chain.
func (m *Manager) TransceiverPeer(index uint8, chain types.ChainID) (types.UniversalAddress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transceivers.GetPeer(index, chain)
}

// OutboundCapacity returns the outbound capacity available at now.
func (m *Manager) OutboundCapacity(now int64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg.Outbound.Capacity(now)
}

// InboundCapacity returns the inbound capacity from a peer chain at now.
func (m *Manager) InboundCapacity(chain types.ChainID, now int64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peer, err := m.peers.Get(chain)
	if err != nil {
		return 0, fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return 0, fmt.Errorf("chain %d:\n%w", chain, ErrNoPeerRegistered)
	}

	return peer.Inbound.Capacity(now), nil
}

// IsApproved reports whether an inbound transfer has reached the
// attestation threshold.
func (m *Manager) IsApproved(chain types.ChainID, digest types.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.inbox.Get(chain, digest)
	if err != nil || item == nil {
		return false, err
	}

	return item.Votes.Count() >= int(m.cfg.Threshold), nil
}

// IsExecuted reports whether an inbound transfer was released.
func (m *Manager) IsExecuted(chain types.ChainID, digest types.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.inbox.Get(chain, digest)
	if err != nil || item == nil {
		return false, err
	}

	return item.Status == queue.Released, nil
}

// IsInboundQueued reports whether an inbound transfer is parked waiting
// for inbound capacity.
func (m *Manager) IsInboundQueued(chain types.ChainID, digest types.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.inbox.Get(chain, digest)
	if err != nil || item == nil {
		return false, err
	}

	return item.Status == queue.ReleaseAfter, nil
}

// InboxItem returns the full status of an inbound transfer, nil when
// the digest was never attested.
func (m *Manager) InboxItem(chain types.ChainID, digest types.Digest) (*InboxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.inbox.Get(chain, digest)
	if err != nil || item == nil {
		return nil, err
	}

	return &InboxStatus{
		Votes:     item.Votes.Count(),
		Threshold: m.cfg.Threshold,
		Approved:  item.Votes.Count() >= int(m.cfg.Threshold),
		Executed:  item.Status == queue.Released,
		Queued:    item.Status == queue.ReleaseAfter,
		ReleaseAt: item.ReleaseAt,
		Sender:    item.Sender,
		Recipient: item.Recipient,
		Amount:    item.Amount,
	}, nil
}

// OutboxItem returns the outbox record for a sequence, nil when none.
func (m *Manager) OutboxItem(sequence uint64) (*queue.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.outbox.Get(sequence)
}

// QueuedOutbox lists outbox items still waiting for outbound capacity.
func (m *Manager) QueuedOutbox() ([]*queue.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []*queue.OutboxItem
	err := m.outbox.IterateQueued(func(item *queue.OutboxItem) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate outbox:\n%w", err)
	}

	return items, nil
}

// ListTransceivers returns every registered transceiver in index order.
func (m *Manager) ListTransceivers() ([]*registry.Transceiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []*registry.Transceiver
	err := m.transceivers.Iterate(func(tr *registry.Transceiver) error {
		list = append(list, tr)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate transceivers:\n%w", err)
	}

	return list, nil
}

// ListPeers returns every registered peer chain.
func (m *Manager) ListPeers() (map[types.ChainID]*registry.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers := make(map[types.ChainID]*registry.Peer)
	err := m.peers.Iterate(func(chain types.ChainID, p *registry.Peer) error {
		peers[chain] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peers:\n%w", err)
	}

	return peers, nil
}

// Status reports the manager's configuration and counters at now.
func (m *Manager) Status(now int64) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	registered := 0
	enabled := 0
	err := m.transceivers.Iterate(func(tr *registry.Transceiver) error {
		registered++
		if tr.Enabled {
			enabled++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate transceivers:\n%w", err)
	}

	peers := 0
	err = m.peers.Iterate(func(types.ChainID, *registry.Peer) error {
		peers++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peers:\n%w", err)
	}

	return &Status{
		Chain:               m.cfg.Chain,
		Address:             m.cfg.Address,
		Token:               m.cfg.Token,
		TokenDecimals:       m.cfg.TokenDecimals,
		Mode:                m.cfg.Mode,
		Paused:              m.cfg.Paused,
		Threshold:           m.cfg.Threshold,
		Transceivers:        registered,
		EnabledTransceivers: enabled,
		Peers:               peers,
		NextSequence:        m.cfg.NextSequence,
		OutboundLimit:       m.cfg.Outbound.Limit,
		OutboundCapacity:    m.cfg.Outbound.Capacity(now),
		Owner:               m.cfg.Owner,
		Pauser:              m.cfg.Pauser,
		PendingOwner:        m.cfg.PendingOwner,
	}, nil
}
