// Package indexer projects observed block headers into the mirrored tables.
package indexer

import (
	"context"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/database"
	"github.com/auctionchain/auction-mirror/internal/extractor"
	"github.com/auctionchain/auction-mirror/internal/logger"
	"github.com/auctionchain/auction-mirror/internal/metrics"
)

// BlockReader supplies block-level details beyond the header.
type BlockReader interface {
	ExtrinsicsCount(ctx context.Context, hash string) (int, error)
}

// Extractor reads the pallet's storage snapshot at a block hash.
type Extractor interface {
	Extract(ctx context.Context, blockHash string) (*extractor.Snapshot, error)
}

// Indexer handles one header at a time: block row, storage extraction,
// projection. Failures never propagate out of Index; they go through the
// configured FailurePolicy.
type Indexer struct {
	db        *database.DB
	blocks    BlockReader
	extractor Extractor
	policy    FailurePolicy
}

func New(db *database.DB, blocks BlockReader, ext Extractor, policy FailurePolicy) *Indexer {
	return &Indexer{
		db:        db,
		blocks:    blocks,
		extractor: ext,
		policy:    policy,
	}
}

// Index mirrors one block. Each step is independently idempotent, so
// re-indexing the same header converges on the same rows.
func (ix *Indexer) Index(ctx context.Context, header chain.Header) {
	if err := ix.index(ctx, header); err != nil {
		metrics.BlocksSkipped.Inc()
		ix.policy.OnBlockFailure(ctx, header, err)
		return
	}

	metrics.BlocksIndexed.Inc()
	logger.Debugf("block %d indexed", header.Number)
}

func (ix *Indexer) index(ctx context.Context, header chain.Header) error {
	now := time.Now()

	extrinsics, err := ix.blocks.ExtrinsicsCount(ctx, header.Hash)
	if err != nil {
		return err
	}

	block := &database.Block{
		Number:          header.Number,
		Hash:            header.Hash,
		ParentHash:      header.ParentHash,
		ExtrinsicsCount: extrinsics,
		IndexedAt:       now,
	}
	if err := ix.db.SaveBlock(ctx, block); err != nil {
		return err
	}

	snapshot, err := ix.extractor.Extract(ctx, header.Hash)
	if err != nil {
		return err
	}

	return ix.db.SaveProjection(ctx, buildProjection(header.Number, snapshot, now))
}

func buildProjection(blockNumber uint64, snapshot *extractor.Snapshot, now time.Time) *database.Projection {
	p := &database.Projection{BlockNumber: blockNumber}

	for _, a := range snapshot.Auctions {
		p.Auctions = append(p.Auctions, database.Auction{
			CollectionID:    a.CollectionID,
			ItemID:          a.ItemID,
			ObservedAtBlock: blockNumber,
			OwnerAccount:    a.Owner,
			StartBlock:      a.StartBlock,
			HighestBid:      balanceString(a.HighestBid),
			HighestBidder:   a.HighestBidder,
			Ended:           a.Ended,
			IndexedAt:       now,
		})
	}

	for _, b := range snapshot.Bids {
		p.Bids = append(p.Bids, database.Bid{
			CollectionID:    b.CollectionID,
			ItemID:          b.ItemID,
			ObservedAtBlock: blockNumber,
			BidderAccount:   b.Bidder,
			Amount:          balanceString(b.Amount),
		})
	}

	for _, s := range snapshot.Status {
		p.Status = append(p.Status, database.AuctionStatus{
			CollectionID:    s.CollectionID,
			ItemID:          s.ItemID,
			ObservedAtBlock: blockNumber,
			InAuction:       s.InAuction,
			IndexedAt:       now,
		})
	}

	if snapshot.FeePercentage != nil {
		p.Settings = append(p.Settings, database.PalletSetting{
			SettingName:     database.SettingFeePercentage,
			SettingValue:    strconv.FormatUint(uint64(*snapshot.FeePercentage), 10),
			ObservedAtBlock: blockNumber,
			IndexedAt:       now,
		})
	}

	if snapshot.AccumulatedFees != nil {
		p.Settings = append(p.Settings, database.PalletSetting{
			SettingName:     database.SettingAccumulatedFees,
			SettingValue:    snapshot.AccumulatedFees.Dec(),
			ObservedAtBlock: blockNumber,
			IndexedAt:       now,
		})
	}

	return p
}

func balanceString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}

	return v.Dec()
}
