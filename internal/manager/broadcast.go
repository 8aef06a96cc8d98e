package manager

import (
	"context"
	"fmt"

	"ntt/internal/logger"
	"ntt/internal/types"
)

// BroadcastInit announces this manager's identity, mode and token
// through every enabled transceiver, so counterpart deployments can
// bootstrap their peer tables.
func (m *Manager) BroadcastInit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	init := types.TransceiverInit{
		Manager:       m.cfg.Address,
		Mode:          m.cfg.Mode,
		Token:         m.cfg.Token,
		TokenDecimals: m.cfg.TokenDecimals,
	}

	done := m.emitEnabled(ctx, 0, init.Encode())
	if done == 0 {
		return fmt.Errorf("no transceiver emitted the init broadcast")
	}

	logger.Info("init broadcast", "transceivers", done.Count())

	return nil
}

// BroadcastTransceiverPeer announces the peer a transceiver trusts on a
// remote chain, through that transceiver only.
func (m *Manager) BroadcastTransceiverPeer(ctx context.Context, index uint8, chain types.ChainID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, err := m.transceivers.Get(index)
	if err != nil {
		return fmt.Errorf("load transceiver:\n%w", err)
	}
	if tr == nil {
		return fmt.Errorf("index %d:\n%w", index, ErrInvalidTransceiverIndex)
	}
	if !tr.Enabled {
		return fmt.Errorf("index %d:\n%w", index, ErrUnknownOrDisabledTransceiver)
	}

	addr, ok, err := m.transceivers.GetPeer(index, chain)
	if err != nil {
		return fmt.Errorf("load transceiver peer:\n%w", err)
	}
	if !ok {
		return fmt.Errorf("transceiver %d has no peer on chain %d:\n%w", index, chain, ErrNoPeerRegistered)
	}

	e, bound := m.emitters[index]
	if !bound {
		return fmt.Errorf("no emitter bound for transceiver %d", index)
	}

	reg := types.TransceiverRegistration{Chain: chain, Transceiver: addr}
	if err := e.Emit(ctx, reg.Encode()); err != nil {
		return fmt.Errorf("emit registration:\n%w", err)
	}

	logger.Info("transceiver peer broadcast", "index", index, "chain", chain, "peer", addr.Short())

	return nil
}
