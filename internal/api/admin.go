package api

import (
	"net/http"
	"sort"

	"ntt/internal/registry"
	"ntt/internal/types"
)

// handleSetPeer handles POST /peers requests. It registers or updates
// the trusted manager for a remote chain.
func (s *Server) handleSetPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		Chain        uint16 `json:"chain"`
		Manager      string `json:"manager"`
		Decimals     uint8  `json:"decimals"`
		InboundLimit uint64 `json:"inboundLimit"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	peerManager, err := parseAddress("manager", req.Manager)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.manager.SetPeer(caller, types.ChainID(req.Chain), peerManager, req.Decimals, req.InboundLimit)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleGetPeer handles GET /peers/{chain} requests.
func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	chain, err := pathUint(r, "chain", 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	peer, err := s.manager.Peer(types.ChainID(chain))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if peer == nil {
		writeError(w, http.StatusNotFound, "peer not found")
		return
	}

	writeJSON(w, http.StatusOK, s.peerJSON(types.ChainID(chain), peer))
}

// handleListPeers handles GET /peers requests.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.manager.ListPeers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chains := make([]types.ChainID, 0, len(peers))
	for chain := range peers {
		chains = append(chains, chain)
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	resp := make([]map[string]any, 0, len(chains))
	for _, chain := range chains {
		resp = append(resp, s.peerJSON(chain, peers[chain]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRegisterTransceiver handles POST /transceivers requests.
func (s *Server) handleRegisterTransceiver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Kind   string `json:"kind"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := s.manager.RegisterTransceiver(caller, req.Kind)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index": index,
	})
}

// handleListTransceivers handles GET /transceivers requests.
func (s *Server) handleListTransceivers(w http.ResponseWriter, r *http.Request) {
	transceivers, err := s.manager.ListTransceivers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]map[string]any, 0, len(transceivers))
	for _, t := range transceivers {
		resp = append(resp, map[string]any{
			"index":   t.Index,
			"kind":    t.Kind,
			"enabled": t.Enabled,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSetTransceiverEnabled handles POST /transceivers/{index}/enabled
// requests.
func (s *Server) handleSetTransceiverEnabled(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index", 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Caller  string `json:"caller"`
		Enabled bool   `json:"enabled"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetTransceiverEnabled(caller, uint8(index), req.Enabled); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleSetTransceiverPeer handles POST /transceivers/{index}/peers
// requests.
func (s *Server) handleSetTransceiverPeer(w http.ResponseWriter, r *http.Request) {
	index, err := pathUint(r, "index", 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Caller  string `json:"caller"`
		Chain   uint16 `json:"chain"`
		Address string `json:"address"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetTransceiverPeer(caller, uint8(index), types.ChainID(req.Chain), addr); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleSetThreshold handles POST /threshold requests.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		Threshold uint8  `json:"threshold"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetThreshold(caller, req.Threshold); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleSetOutboundLimit handles POST /limits/outbound requests.
func (s *Server) handleSetOutboundLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Limit  uint64 `json:"limit"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetOutboundLimit(caller, req.Limit); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleSetInboundLimit handles POST /limits/inbound requests.
func (s *Server) handleSetInboundLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Chain  uint16 `json:"chain"`
		Limit  uint64 `json:"limit"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.SetInboundLimit(caller, types.ChainID(req.Chain), req.Limit); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handlePause handles POST /pause requests.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handlePauseSwitch(w, r, true)
}

// handleUnpause handles POST /unpause requests.
func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.handlePauseSwitch(w, r, false)
}

func (s *Server) handlePauseSwitch(w http.ResponseWriter, r *http.Request, pause bool) {
	var req struct {
		Caller string `json:"caller"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if pause {
		err = s.manager.Pause(caller)
	} else {
		err = s.manager.Unpause(caller)
	}

	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleSetPauser handles POST /pauser requests.
func (s *Server) handleSetPauser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Pauser string `json:"pauser"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A zero pauser clears the role, so an empty field is allowed.
	var pauser types.UniversalAddress
	if req.Pauser != "" {
		pauser, err = parseAddress("pauser", req.Pauser)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.manager.SetPauser(caller, pauser); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleTransferOwnership handles POST /owner requests. The handover
// completes when the new owner claims it.
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		NewOwner string `json:"newOwner"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	newOwner, err := parseAddress("newOwner", req.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.TransferOwnership(caller, newOwner); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleClaimOwnership handles POST /owner/claim requests.
func (s *Server) handleClaimOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.ClaimOwnership(caller); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleTransferOwnershipOneStep handles POST /owner/onestep requests.
func (s *Server) handleTransferOwnershipOneStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		NewOwner string `json:"newOwner"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	newOwner, err := parseAddress("newOwner", req.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.TransferOwnershipOneStep(caller, newOwner); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleBroadcastInit handles POST /broadcast/init requests.
func (s *Server) handleBroadcastInit(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.BroadcastInit(r.Context()); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleBroadcastPeer handles POST /broadcast/peer requests.
func (s *Server) handleBroadcastPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index uint8  `json:"index"`
		Chain uint16 `json:"chain"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.BroadcastTransceiverPeer(r.Context(), req.Index, types.ChainID(req.Chain)); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// peerJSON renders a registered peer with its live inbound capacity.
func (s *Server) peerJSON(chain types.ChainID, peer *registry.Peer) map[string]any {
	return map[string]any{
		"chain":           chain,
		"manager":         peer.Manager.Hex(),
		"decimals":        peer.Decimals,
		"inboundLimit":    peer.Inbound.Limit,
		"inboundCapacity": peer.Inbound.Capacity(s.now()),
	}
}
