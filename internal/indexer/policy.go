package indexer

import (
	"context"
	"time"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/database"
	"github.com/auctionchain/auction-mirror/internal/logger"
)

// FailurePolicy decides what happens to a block whose extraction or
// projection failed. The pipeline always proceeds to the next header;
// policies only control how the gap is recorded.
type FailurePolicy interface {
	OnBlockFailure(ctx context.Context, header chain.Header, err error)
}

// BestEffort logs the failure and moves on. This favors liveness over
// completeness: a transient failure leaves a permanent gap in the mirrored
// history for that block unless a separate backfill fills it.
type BestEffort struct{}

func (BestEffort) OnBlockFailure(_ context.Context, header chain.Header, err error) {
	logger.Errorf("block %d (%s): indexing abandoned: %v", header.Number, header.Hash, err)
}

// DeadLetter logs the failure and records the block in the skipped_blocks
// table so a backfill job can locate the gaps later.
type DeadLetter struct {
	DB *database.DB
}

func (p DeadLetter) OnBlockFailure(ctx context.Context, header chain.Header, err error) {
	logger.Errorf("block %d (%s): indexing abandoned: %v", header.Number, header.Hash, err)

	record := &database.SkippedBlock{
		Number:    header.Number,
		Hash:      header.Hash,
		Reason:    err.Error(),
		SkippedAt: time.Now(),
	}
	if dbErr := p.DB.RecordSkippedBlock(ctx, record); dbErr != nil {
		logger.Errorf("block %d: recording skip: %v", header.Number, dbErr)
	}
}
