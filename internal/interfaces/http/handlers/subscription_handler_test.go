package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/infrastructure/repositories"
	"chain-relay.backend/internal/usecases"
)

func newSubscriptionRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))

	provider := config.NewProvider(config.Snapshot{
		MaxBackfillRange: 5000,
		Chains: map[uint64]config.ChainConfig{
			137: {ChainID: 137, LegacyGas: true},
		},
	}, nil)

	subs := usecases.NewSubscriptionUsecase(
		repositories.NewContractSubscriptionRepository(db),
		repositories.NewChainIndexerCursorRepository(db),
		repositories.NewBackfillRangeRepository(db),
		repositories.NewEventRecordRepository(db),
		provider,
	)

	h := NewSubscriptionHandler(subs)
	r := gin.New()
	r.POST("/api/v1/subscriptions", h.Subscribe)
	r.GET("/api/v1/subscriptions/:id", h.GetSubscription)
	r.DELETE("/api/v1/subscriptions/:id", h.Unsubscribe)
	r.POST("/api/v1/subscriptions/:id/backfill", h.Backfill)
	r.GET("/api/v1/events", h.GetEventLogs)
	r.GET("/api/v1/receipts", h.GetTransactionReceipts)
	return r
}

func TestSubscriptionHandler_SubscribeAndGet(t *testing.T) {
	r := newSubscriptionRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId":         137,
		"contractAddress": "0xDEADbeef00000000000000000000000000000001",
		"filterEvents":    []string{"0xaaa1"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])
	require.Equal(t, "0xdeadbeef00000000000000000000000000000001", created["contractAddress"])

	w = doJSON(r, http.MethodGet, "/api/v1/subscriptions/"+created["id"].(string), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, created["id"], got["id"])
}

func TestSubscriptionHandler_SubscribeValidation(t *testing.T) {
	r := newSubscriptionRouter(t)

	// Unconfigured chain.
	w := doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId": 999, "contractAddress": "0x01",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Missing address.
	w = doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId": 137,
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionHandler_Backfill(t *testing.T) {
	r := newSubscriptionRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId": 137, "contractAddress": "0x01",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"].(string)

	w = doJSON(r, http.MethodPost, "/api/v1/subscriptions/"+id+"/backfill", map[string]interface{}{
		"fromBlock": 100, "toBlock": 200,
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var b map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	require.Equal(t, float64(100), b["fromBlock"])
	require.Equal(t, float64(200), b["toBlock"])
	require.Equal(t, "PENDING", b["status"])

	// Range wider than the configured maximum.
	w = doJSON(r, http.MethodPost, "/api/v1/subscriptions/"+id+"/backfill", map[string]interface{}{
		"fromBlock": 100, "toBlock": 100000,
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown subscription.
	w = doJSON(r, http.MethodPost, "/api/v1/subscriptions/0198a5d2-0000-7000-8000-000000000000/backfill", map[string]interface{}{
		"fromBlock": 100, "toBlock": 200,
	}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionHandler_Unsubscribe(t *testing.T) {
	r := newSubscriptionRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId": 137, "contractAddress": "0x01",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"].(string)

	w = doJSON(r, http.MethodDelete, "/api/v1/subscriptions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/subscriptions/"+id, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/v1/subscriptions/"+id, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionHandler_EventQueries(t *testing.T) {
	r := newSubscriptionRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/subscriptions", map[string]interface{}{
		"chainId": 137, "contractAddress": "0x01",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/events?chainId=137&contractAddress=0x01", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.JSONEq(t, "[]", string(events["events"]))

	w = doJSON(r, http.MethodGet, "/api/v1/receipts?chainId=137&contractAddress=0x01", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Never subscribed address.
	w = doJSON(r, http.MethodGet, "/api/v1/events?chainId=137&contractAddress=0x99", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Malformed query values.
	w = doJSON(r, http.MethodGet, "/api/v1/events?chainId=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/api/v1/events?chainId=137&contractAddress=0x01&fromBlock=zzz", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
