package database

import "time"

// Block is written once per observed header and never mutated; conflicts on
// Number are ignored.
type Block struct {
	Number          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash            string `gorm:"type:varchar(66);index"`
	ParentHash      string `gorm:"type:varchar(66)"`
	ExtrinsicsCount int    `gorm:"default:0"`
	IndexedAt       time.Time
}

// Auction is the snapshot of one on-chain auction as observed at a block.
// Re-indexing the same block updates the row in place.
type Auction struct {
	CollectionID    uint32 `gorm:"primaryKey;autoIncrement:false"`
	ItemID          uint32 `gorm:"primaryKey;autoIncrement:false"`
	ObservedAtBlock uint64 `gorm:"primaryKey;autoIncrement:false"`
	OwnerAccount    string `gorm:"type:varchar(66)"`
	StartBlock      uint64
	HighestBid      string  `gorm:"type:numeric(39,0);default:0"`
	HighestBidder   *string `gorm:"type:varchar(66)"`
	Ended           bool
	IndexedAt       time.Time
}

// Bid rows mirror the chain's complete bid list for an auction at a block.
// The set is replaced wholesale on re-index, never merged.
type Bid struct {
	ID              uint64 `gorm:"primaryKey"`
	CollectionID    uint32 `gorm:"index:idx_bids_key"`
	ItemID          uint32 `gorm:"index:idx_bids_key"`
	ObservedAtBlock uint64 `gorm:"index:idx_bids_key"`
	BidderAccount   string `gorm:"type:varchar(66)"`
	Amount          string `gorm:"type:numeric(39,0)"`
}

// AuctionStatus records the pallet's in-auction flag per NFT per block.
type AuctionStatus struct {
	CollectionID    uint32 `gorm:"primaryKey;autoIncrement:false"`
	ItemID          uint32 `gorm:"primaryKey;autoIncrement:false"`
	ObservedAtBlock uint64 `gorm:"primaryKey;autoIncrement:false"`
	InAuction       bool
	IndexedAt       time.Time
}

// PalletSetting holds one singleton storage value, keyed by name alone: the
// stored value always reflects the most recently observed block.
type PalletSetting struct {
	SettingName     string `gorm:"primaryKey;type:varchar(64)"`
	SettingValue    string `gorm:"type:varchar(128)"`
	ObservedAtBlock uint64
	IndexedAt       time.Time
}

// SkippedBlock is the dead-letter record of a block whose projection was
// abandoned, so a backfill job can find the gaps.
type SkippedBlock struct {
	Number    uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash      string `gorm:"type:varchar(66)"`
	Reason    string `gorm:"type:text"`
	SkippedAt time.Time
}

const (
	SettingFeePercentage   = "fee_percentage"
	SettingAccumulatedFees = "accumulated_fees"
)

func (Block) TableName() string         { return "blocks" }
func (Auction) TableName() string       { return "auctions" }
func (Bid) TableName() string           { return "bids" }
func (AuctionStatus) TableName() string { return "auction_status" }
func (PalletSetting) TableName() string { return "pallet_settings" }
func (SkippedBlock) TableName() string  { return "skipped_blocks" }
