package main

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chain-relay.backend/internal/interfaces/http/handlers"
)

type routeDeps struct {
	relayHandler        *handlers.RelayHandler
	subscriptionHandler *handlers.SubscriptionHandler
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		transactions := v1.Group("/transactions")
		{
			transactions.POST("", d.relayHandler.Enqueue)
			transactions.GET("/:id", d.relayHandler.GetStatus)
			transactions.POST("/:id/cancel", d.relayHandler.Cancel)
		}

		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.POST("", d.subscriptionHandler.Subscribe)
			subscriptions.GET("/:id", d.subscriptionHandler.GetSubscription)
			subscriptions.DELETE("/:id", d.subscriptionHandler.Unsubscribe)
			subscriptions.POST("/:id/backfill", d.subscriptionHandler.Backfill)
		}

		v1.GET("/events", d.subscriptionHandler.GetEventLogs)
		v1.GET("/receipts", d.subscriptionHandler.GetTransactionReceipts)
	}
}

func registerHealthRoute(r *gin.Engine, db *sql.DB) {
	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := db.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status})
	})
}

func registerMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
