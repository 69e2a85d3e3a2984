package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chain-relay.backend/internal/domain/entities"
	domainerrors "chain-relay.backend/internal/domain/errors"
	"chain-relay.backend/internal/interfaces/http/response"
	"chain-relay.backend/internal/usecases"
)

// SubscriptionHandler handles indexer subscription and read endpoints
type SubscriptionHandler struct {
	subs *usecases.SubscriptionUsecase
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subs *usecases.SubscriptionUsecase) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

// Subscribe registers a contract address for log indexing
// POST /api/v1/subscriptions
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var input usecases.SubscribeRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.subs.Subscribe(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sub)
}

// GetSubscription returns one subscription
// GET /api/v1/subscriptions/:id
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid subscription id"))
		return
	}

	sub, err := h.subs.GetSubscription(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, sub)
}

// Unsubscribe removes a subscription; already indexed records stay readable
// DELETE /api/v1/subscriptions/:id
func (h *SubscriptionHandler) Unsubscribe(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid subscription id"))
		return
	}

	if err := h.subs.Unsubscribe(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "subscription removed"})
}

// Backfill queues a bounded historical block range for indexing
// POST /api/v1/subscriptions/:id/backfill
func (h *SubscriptionHandler) Backfill(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid subscription id"))
		return
	}

	var input struct {
		FromBlock uint64 `json:"fromBlock"`
		ToBlock   uint64 `json:"toBlock" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.subs.Backfill(c.Request.Context(), id, input.FromBlock, input.ToBlock)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, b)
}

// GetEventLogs reads stored logs for a subscribed contract
// GET /api/v1/events
func (h *SubscriptionHandler) GetEventLogs(c *gin.Context) {
	q, err := parseEventQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.subs.GetEventLogs(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	if logs == nil {
		logs = []*entities.EventLogRecord{}
	}
	response.Success(c, http.StatusOK, gin.H{"events": logs})
}

// GetTransactionReceipts reads stored receipts for a subscribed contract
// GET /api/v1/receipts
func (h *SubscriptionHandler) GetTransactionReceipts(c *gin.Context) {
	q, err := parseEventQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	receipts, err := h.subs.GetTransactionReceipts(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	if receipts == nil {
		receipts = []*entities.TransactionReceiptRecord{}
	}
	response.Success(c, http.StatusOK, gin.H{"receipts": receipts})
}

func parseEventQuery(c *gin.Context) (usecases.EventQuery, error) {
	chainID, err := strconv.ParseUint(c.Query("chainId"), 10, 64)
	if err != nil {
		return usecases.EventQuery{}, domainerrors.BadRequest("invalid chainId")
	}

	q := usecases.EventQuery{
		ChainID:         chainID,
		ContractAddress: c.Query("contractAddress"),
		Topic:           c.Query("topic"),
	}
	if raw := c.Query("fromBlock"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return usecases.EventQuery{}, domainerrors.BadRequest("invalid fromBlock")
		}
		q.FromBlock = from
	}
	if raw := c.Query("toBlock"); raw != "" {
		to, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return usecases.EventQuery{}, domainerrors.BadRequest("invalid toBlock")
		}
		q.ToBlock = &to
	}
	if raw := c.Query("page"); raw != "" {
		q.Page, _ = strconv.Atoi(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		q.Limit, _ = strconv.Atoi(raw)
	}
	return q, nil
}
