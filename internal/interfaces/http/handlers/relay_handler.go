package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/interfaces/http/response"
	"chain-relay.backend/internal/usecases"
)

// RelayHandler handles transaction relay endpoints
type RelayHandler struct {
	relay *usecases.RelayUsecase
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(relay *usecases.RelayUsecase) *RelayHandler {
	return &RelayHandler{relay: relay}
}

// Enqueue accepts a transaction intent for durable relay
// POST /api/v1/transactions
func (h *RelayHandler) Enqueue(c *gin.Context) {
	var input usecases.TransactionIntent
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")

	queueID, err := h.relay.Enqueue(c.Request.Context(), input, idempotencyKey)
	if err != nil {
		response.Error(c, err)
		return
	}

	// 200, not 201: a repeated idempotency key returns the original id.
	response.Success(c, http.StatusOK, gin.H{"queueId": queueID})
}

// GetStatus returns the lifecycle state of a queued transaction
// GET /api/v1/transactions/:id
func (h *RelayHandler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid queue id"))
		return
	}

	status, err := h.relay.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// Cancel requests best-effort cancellation of a queued or sent transaction
// POST /api/v1/transactions/:id/cancel
func (h *RelayHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid queue id"))
		return
	}

	outcome, err := h.relay.Cancel(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"queueId": id, "outcome": outcome})
}
