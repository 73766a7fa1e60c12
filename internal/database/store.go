package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Projection is one block's worth of extracted rows, written as a single
// logical unit.
type Projection struct {
	BlockNumber uint64
	Auctions    []Auction
	Bids        []Bid
	Status      []AuctionStatus
	Settings    []PalletSetting
}

var (
	auctionKeyColumns = []clause.Column{
		{Name: "collection_id"}, {Name: "item_id"}, {Name: "observed_at_block"},
	}

	auctionUpdateColumns = []string{
		"owner_account", "start_block", "highest_bid", "highest_bidder", "ended", "indexed_at",
	}
)

// SaveBlock writes the block row, ignoring conflicts on the block number:
// re-delivered headers leave the existing row unchanged.
func (db *DB) SaveBlock(ctx context.Context, block *Block) error {
	err := db.g.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(block).
		Error

	return errors.Wrap(err, "saving block")
}

// SaveProjection persists every row extracted for one block inside a single
// transaction, so a failure never leaves a partial projection behind.
//
// Auctions and status flags are upserted on their composite key. Bid rows
// are replaced wholesale per auction key: the chain storage item is the full
// current bid list, not a delta. Settings are upserted on name alone and
// always reflect the most recently observed block.
func (db *DB) SaveProjection(ctx context.Context, p *Projection) error {
	err := db.g.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(p.Auctions) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   auctionKeyColumns,
				DoUpdates: clause.AssignmentColumns(auctionUpdateColumns),
			}).Create(&p.Auctions).Error
			if err != nil {
				return errors.Wrap(err, "upserting auctions")
			}
		}

		if err := db.replaceBids(tx, p); err != nil {
			return err
		}

		if len(p.Status) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   auctionKeyColumns,
				DoUpdates: clause.AssignmentColumns([]string{"in_auction", "indexed_at"}),
			}).Create(&p.Status).Error
			if err != nil {
				return errors.Wrap(err, "upserting auction status")
			}
		}

		if len(p.Settings) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "setting_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"setting_value", "observed_at_block", "indexed_at"}),
			}).Create(&p.Settings).Error
			if err != nil {
				return errors.Wrap(err, "upserting settings")
			}
		}

		return nil
	})

	return errors.Wrapf(err, "projection for block %d", p.BlockNumber)
}

type auctionKey struct {
	collectionID uint32
	itemID       uint32
}

// replaceBids deletes every bid row previously recorded at this block for
// each auction touched by the snapshot, then inserts the current list. The
// delete covers auctions whose bid list is now empty as well.
func (db *DB) replaceBids(tx *gorm.DB, p *Projection) error {
	keys := make(map[auctionKey]struct{})
	for i := range p.Auctions {
		keys[auctionKey{p.Auctions[i].CollectionID, p.Auctions[i].ItemID}] = struct{}{}
	}
	for i := range p.Bids {
		keys[auctionKey{p.Bids[i].CollectionID, p.Bids[i].ItemID}] = struct{}{}
	}

	for key := range keys {
		err := tx.Where(
			"collection_id = ? AND item_id = ? AND observed_at_block = ?",
			key.collectionID, key.itemID, p.BlockNumber,
		).Delete(&Bid{}).Error
		if err != nil {
			return errors.Wrap(err, "deleting stale bids")
		}
	}

	if len(p.Bids) != 0 {
		if err := tx.Create(&p.Bids).Error; err != nil {
			return errors.Wrap(err, "inserting bids")
		}
	}

	return nil
}

// RecordSkippedBlock notes a block whose projection was abandoned.
func (db *DB) RecordSkippedBlock(ctx context.Context, skipped *SkippedBlock) error {
	err := db.g.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(skipped).
		Error

	return errors.Wrap(err, "recording skipped block")
}

// GetSkippedBlocks lists the dead-letter records in block order, for
// backfill tooling.
func (db *DB) GetSkippedBlocks(ctx context.Context) ([]SkippedBlock, error) {
	var skipped []SkippedBlock
	err := db.g.WithContext(ctx).Order("number").Find(&skipped).Error

	return skipped, errors.Wrap(err, "listing skipped blocks")
}

// AuctionData is the point-lookup result: the newest snapshot of one
// auction, its full bid set, and the in-auction flag. InAuction is nil when
// no status row was ever observed, which is distinct from an explicit false.
type AuctionData struct {
	Auction   Auction
	Bids      []Bid
	InAuction *bool
}

// ErrUnknownBlock is returned when a historical lookup names a block hash
// this mirror has never indexed.
var ErrUnknownBlock = errors.New("unknown block hash")

// GetAuctionData returns the latest observed snapshot for an auction,
// optionally pinned at or before the block identified by atHash. Returns
// gorm.ErrRecordNotFound when the auction was never observed.
func (db *DB) GetAuctionData(ctx context.Context, collectionID, itemID uint32, atHash string) (*AuctionData, error) {
	var maxBlock *uint64
	if atHash != "" {
		var block Block
		err := db.g.WithContext(ctx).Where("hash = ?", atHash).First(&block).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownBlock
		}
		if err != nil {
			return nil, errors.Wrap(err, "resolving block hash")
		}

		maxBlock = &block.Number
	}

	query := db.g.WithContext(ctx).
		Where("collection_id = ? AND item_id = ?", collectionID, itemID)
	if maxBlock != nil {
		query = query.Where("observed_at_block <= ?", *maxBlock)
	}

	var auction Auction
	if err := query.Order("observed_at_block DESC").First(&auction).Error; err != nil {
		return nil, err
	}

	data := &AuctionData{Auction: auction, Bids: []Bid{}}

	err := db.g.WithContext(ctx).
		Where(
			"collection_id = ? AND item_id = ? AND observed_at_block = ?",
			collectionID, itemID, auction.ObservedAtBlock,
		).
		Order("id").
		Find(&data.Bids).
		Error
	if err != nil {
		return nil, errors.Wrap(err, "loading bids")
	}

	statusQuery := db.g.WithContext(ctx).
		Where("collection_id = ? AND item_id = ?", collectionID, itemID)
	if maxBlock != nil {
		statusQuery = statusQuery.Where("observed_at_block <= ?", *maxBlock)
	}

	var status AuctionStatus
	err = statusQuery.Order("observed_at_block DESC").First(&status).Error
	switch {
	case err == nil:
		data.InAuction = &status.InAuction
	case errors.Is(err, gorm.ErrRecordNotFound):
		// never observed; leave nil
	default:
		return nil, errors.Wrap(err, "loading status")
	}

	return data, nil
}

// GetAllActiveAuctions returns the newest snapshot of every auction whose
// latest observation has ended = false.
func (db *DB) GetAllActiveAuctions(ctx context.Context) ([]Auction, error) {
	var auctions []Auction

	err := db.g.WithContext(ctx).Raw(`
		SELECT a.* FROM auctions a
		JOIN (
			SELECT collection_id, item_id, MAX(observed_at_block) AS max_block
			FROM auctions
			GROUP BY collection_id, item_id
		) latest
		ON a.collection_id = latest.collection_id
		AND a.item_id = latest.item_id
		AND a.observed_at_block = latest.max_block
		WHERE a.ended = ?
		ORDER BY a.collection_id, a.item_id`, false).
		Scan(&auctions).
		Error
	if err != nil {
		return nil, errors.Wrap(err, "querying active auctions")
	}

	return auctions, nil
}

// GetSetting returns one pallet setting row, or gorm.ErrRecordNotFound.
func (db *DB) GetSetting(ctx context.Context, name string) (*PalletSetting, error) {
	var setting PalletSetting
	if err := db.g.WithContext(ctx).First(&setting, "setting_name = ?", name).Error; err != nil {
		return nil, err
	}

	return &setting, nil
}
