package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transactions_submitted_total",
		Help: "Transactions broadcast to the execution network",
	}, []string{"chain"})

	TransactionsMined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transactions_mined_total",
		Help: "Transactions confirmed with a receipt",
	}, []string{"chain", "status"})

	TransactionsErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transactions_errored_total",
		Help: "Transactions that reached a terminal error",
	}, []string{"chain", "reason"})

	TransactionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transaction_retries_total",
		Help: "Same-nonce gas-escalated resubmissions",
	}, []string{"chain"})

	CancellationsAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_cancellations_attempted_total",
		Help: "Null-transaction cancellation broadcasts",
	}, []string{"chain"})

	GasDeferrals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gas_deferrals_total",
		Help: "Submissions or retries deferred by the gas ceiling",
	}, []string{"chain"})

	IndexerLastBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_indexer_last_block",
		Help: "Last fully indexed block per chain",
	}, []string{"chain"})

	IndexerLogsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_indexer_logs_ingested_total",
		Help: "Event logs written by the indexer (pre-dedup)",
	}, []string{"chain"})

	WebhooksDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhooks_delivered_total",
		Help: "Webhook events delivered",
	}, []string{"outcome"})
)

// ChainLabel renders a chain id as a metric label
func ChainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
