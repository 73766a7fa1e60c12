package indexer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/extractor"
	"github.com/auctionchain/auction-mirror/internal/indexer"
)

// orderedBlocks records the order in which headers reach the indexing step.
type orderedBlocks struct {
	seen chan string
}

func (o *orderedBlocks) ExtrinsicsCount(_ context.Context, hash string) (int, error) {
	o.seen <- hash
	return 0, nil
}

func TestQueueProcessesInOrder(t *testing.T) {
	db := testDB(t)

	blocks := &orderedBlocks{seen: make(chan string, 16)}
	ix := indexer.New(db, blocks, &fakeExtractor{snapshot: &extractor.Snapshot{}}, indexer.BestEffort{})
	queue := indexer.NewQueue(ix, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		queue.Run(ctx)
	}()

	headers := []chain.Header{
		{Number: 1, Hash: "0x01"},
		{Number: 2, Hash: "0x02"},
		{Number: 3, Hash: "0x03"},
	}
	for _, header := range headers {
		require.NoError(t, queue.Enqueue(ctx, header))
	}

	for _, header := range headers {
		select {
		case hash := <-blocks.seen:
			require.Equal(t, header.Hash, hash)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for block")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not stop")
	}
}

func TestQueueEnqueueCancelled(t *testing.T) {
	db := testDB(t)

	ix := indexer.New(db, &fakeBlocks{}, &fakeExtractor{snapshot: &extractor.Snapshot{}}, indexer.BestEffort{})
	queue := indexer.NewQueue(ix, 1)

	ctx, cancel := context.WithCancel(context.Background())

	// no consumer running; fill the buffer, then a cancelled Enqueue must
	// not block
	require.NoError(t, queue.Enqueue(ctx, chain.Header{Number: 1}))

	cancel()
	err := queue.Enqueue(ctx, chain.Header{Number: 2})
	require.ErrorIs(t, err, context.Canceled)
}
