package indexer

import (
	"context"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/logger"
)

// Queue is the bounded single-consumer work queue between the head
// subscription and the Indexer. Headers are processed strictly in arrival
// order; two blocks are never projected concurrently. When the queue is
// full, Enqueue blocks, applying backpressure to the subscription pump.
type Queue struct {
	headers chan chain.Header
	ix      *Indexer
}

func NewQueue(ix *Indexer, size int) *Queue {
	return &Queue{
		headers: make(chan chain.Header, size),
		ix:      ix,
	}
}

// Enqueue hands a header to the consumer.
func (q *Queue) Enqueue(ctx context.Context, header chain.Header) error {
	select {
	case q.headers <- header:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes headers until ctx is cancelled. The block being indexed when
// shutdown arrives is allowed to finish or fail naturally; headers still
// queued behind it are discarded.
func (q *Queue) Run(ctx context.Context) {
	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("header queue stopped")
			return
		case header := <-q.headers:
			q.ix.Index(work, header)
		}
	}
}
