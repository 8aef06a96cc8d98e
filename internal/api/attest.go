package api

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"ntt/internal/manager"
	"ntt/internal/types"
)

// handleAttest handles POST /attest requests. The raw attestation is
// whatever the transceiver channel delivers; the node's verifier
// authenticates it before the manager records the vote.
func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "attestation verifier not configured")
		return
	}

	var req struct {
		Transceiver uint8  `json:"transceiver"`
		Attestation string `json:"attestation"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := hex.DecodeString(req.Attestation)
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "invalid attestation hex")
		return
	}

	att, err := s.verifier.Verify(raw)
	if err != nil {
		writeManagerError(w, fmt.Errorf("%v:\n%w", err, manager.ErrAttestationVerificationFailed))
		return
	}

	digest, err := s.manager.Attest(att, req.Transceiver)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain":  att.EmitterChain,
		"digest": digest.Hex(),
	})
}

// handleRedeem handles POST /redeem requests.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain  uint16 `json:"chain"`
		Digest string `json:"digest"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	digest, err := types.DigestFromHex(req.Digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid digest")
		return
	}

	receipt, err := s.manager.Redeem(types.ChainID(req.Chain), digest, s.now())
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"released":  receipt.Released,
		"amount":    receipt.Amount,
		"releaseAt": receipt.ReleaseAt,
	})
}

// handleGetMessage handles GET /messages/{chain}/{digest} requests.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	chain, err := pathUint(r, "chain", 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	digest, err := types.DigestFromHex(r.PathValue("digest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid digest")
		return
	}

	item, err := s.manager.InboxItem(types.ChainID(chain), digest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if item == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"votes":     item.Votes,
		"threshold": item.Threshold,
		"approved":  item.Approved,
		"executed":  item.Executed,
		"queued":    item.Queued,
		"releaseAt": item.ReleaseAt,
		"sender":    item.Sender.Hex(),
		"recipient": item.Recipient.Hex(),
		"amount":    item.Amount.Amount,
		"decimals":  item.Amount.Decimals,
	})
}
