package txn

import "github.com/VictoriaMetrics/metrics"

// Counters exposed through the default metrics set; the embedding
// application decides where to publish them.
var (
	committedTasks   = metrics.NewCounter(`ramcloud_txn_tasks_total{outcome="commit"}`)
	abortedTasks     = metrics.NewCounter(`ramcloud_txn_tasks_total{outcome="abort"}`)
	failedTasks      = metrics.NewCounter(`ramcloud_txn_tasks_total{outcome="failed"}`)
	prepareRpcsSent  = metrics.NewCounter(`ramcloud_txn_rpcs_total{kind="prepare"}`)
	decisionRpcsSent = metrics.NewCounter(`ramcloud_txn_rpcs_total{kind="decision"}`)
	rpcRetries       = metrics.NewCounter(`ramcloud_txn_rpc_retries_total`)
)
