// Package http is the thin API adapter over the gateway core. It owns
// request decoding and status-code mapping only; all business rules
// live in the managers.
package http

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arkrelay/gateway/ceremony"
	"github.com/arkrelay/gateway/core"
	"github.com/arkrelay/gateway/ledger"
	"github.com/arkrelay/gateway/session"
)

// GatewayHandlers contains HTTP handlers for the gateway endpoints
type GatewayHandlers struct {
	sessions     *session.Manager
	orchestrator *ceremony.Orchestrator
	ledger       *ledger.Manager
}

// NewGatewayHandlers creates new gateway handlers
func NewGatewayHandlers(sessions *session.Manager, orchestrator *ceremony.Orchestrator, ledgerMgr *ledger.Manager) *GatewayHandlers {
	return &GatewayHandlers{
		sessions:     sessions,
		orchestrator: orchestrator,
		ledger:       ledgerMgr,
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadyExists),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrExpired):
		return http.StatusGone
	case errors.Is(err, core.ErrSignatureInvalid),
		errors.Is(err, core.ErrChallengeAlreadyConsumed),
		errors.Is(err, core.ErrNoActiveChallenge):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// CreateSession handles session creation
func (h *GatewayHandlers) CreateSession(c *gin.Context) {
	var req struct {
		UserPubkey  string          `json:"user_pubkey" binding:"required"`
		SessionType string          `json:"session_type" binding:"required"`
		Intent      json.RawMessage `json:"intent" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), req.UserPubkey, core.SessionType(req.SessionType), req.Intent)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession returns the full session record, history included
func (h *GatewayHandlers) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// StartCeremony begins the signing ceremony for a session
func (h *GatewayHandlers) StartCeremony(c *gin.Context) {
	result, err := h.orchestrator.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CeremonyStatus returns the ceremony status view
func (h *GatewayHandlers) CeremonyStatus(c *gin.Context) {
	info, err := h.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// SubmitResponse accepts a hex signature for the session's challenge
func (h *GatewayHandlers) SubmitResponse(c *gin.Context) {
	var req struct {
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be hex"})
		return
	}

	sess, err := h.orchestrator.SubmitResponse(c.Request.Context(), c.Param("id"), sig)
	if err != nil {
		status := statusFor(err)
		body := gin.H{"error": err.Error()}
		if sess != nil {
			body["session_status"] = sess.Status
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// CreateAsset registers a new asset
func (h *GatewayHandlers) CreateAsset(c *gin.Context) {
	var req struct {
		ID       string             `json:"asset_id" binding:"required"`
		Name     string             `json:"name" binding:"required"`
		Ticker   string             `json:"ticker" binding:"required"`
		Decimals uint32             `json:"decimal_places"`
		Type     string             `json:"asset_type"`
		RGB      *core.RGBAssetInfo `json:"rgb,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	assetType := core.AssetType(req.Type)
	if req.Type == "" {
		assetType = core.AssetNormal
	}

	asset, err := h.ledger.CreateAsset(c.Request.Context(), ledger.AssetParams{
		ID:       req.ID,
		Name:     req.Name,
		Ticker:   req.Ticker,
		Decimals: req.Decimals,
		Type:     assetType,
		RGB:      req.RGB,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// Balances returns the owner's per-asset unspent totals
func (h *GatewayHandlers) Balances(c *gin.Context) {
	balances, err := h.ledger.Balances(c.Request.Context(), c.Param("pubkey"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// ManageVtxos performs operational create/split/merge
func (h *GatewayHandlers) ManageVtxos(c *gin.Context) {
	var req struct {
		Owner   string   `json:"owner_pubkey" binding:"required"`
		AssetID string   `json:"asset_id" binding:"required"`
		Action  string   `json:"action" binding:"required"`
		Amount  uint64   `json:"amount"`
		VtxoID  string   `json:"vtxo_id"`
		Amounts []uint64 `json:"amounts"`
		VtxoIDs []string `json:"vtxo_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.ledger.ManageVtxos(c.Request.Context(), req.Owner, req.AssetID, ledger.VtxoOp{
		Action:  ledger.VtxoAction(req.Action),
		Amount:  req.Amount,
		VtxoID:  req.VtxoID,
		Amounts: req.Amounts,
		VtxoIDs: req.VtxoIDs,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
