package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BlocksIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_indexer_blocks_indexed_total",
		Help: "Blocks whose projection was written successfully",
	})

	BlocksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_indexer_blocks_skipped_total",
		Help: "Blocks abandoned after an extraction or projection failure",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_indexer_reconnects_total",
		Help: "Chain connection attempts after a transport drop",
	})

	ChainHead = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auction_indexer_chain_head",
		Help: "Number of the last header received from the chain",
	})
)

func init() {
	prometheus.MustRegister(BlocksIndexed, BlocksSkipped, Reconnects, ChainHead)
}
