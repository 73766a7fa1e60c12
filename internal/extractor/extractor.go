// Package extractor reads the auction pallet's storage as of a given block
// hash and converts it into row-shaped records.
package extractor

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/scale"
)

// ChainReader is the subset of the chain client the extractor needs. All
// reads are pinned to a block hash so repeated extraction of the same
// historical block is fully reproducible.
type ChainReader interface {
	StorageKeys(ctx context.Context, prefix string, at string) ([]string, error)
	QueryStorageAt(ctx context.Context, keys []string, at string) ([]chain.StorageChange, error)
	GetStorage(ctx context.Context, key string, at string) (string, error)
}

// AuctionRecord is one decoded Auctions map entry.
type AuctionRecord struct {
	CollectionID  uint32
	ItemID        uint32
	Owner         string
	StartBlock    uint64
	HighestBid    *uint256.Int
	HighestBidder *string
	Ended         bool
}

// BidRecord is one entry of an auction's bid list.
type BidRecord struct {
	CollectionID uint32
	ItemID       uint32
	Bidder       string
	Amount       *uint256.Int
}

// StatusRecord is one decoded InAuction flag.
type StatusRecord struct {
	CollectionID uint32
	ItemID       uint32
	InAuction    bool
}

// Snapshot is the pallet's full storage output at one block. The settings
// pointers are nil when the chain reported no value for the slot.
type Snapshot struct {
	Auctions        []AuctionRecord
	Bids            []BidRecord
	Status          []StatusRecord
	FeePercentage   *uint8
	AccumulatedFees *uint256.Int
}

// Extractor queries and decodes the pallet's storage maps and values.
type Extractor struct {
	chain ChainReader

	auctionsPrefix  string
	bidsPrefix      string
	inAuctionPrefix string
	feeKey          string
	accFeesKey      string
}

func New(chainReader ChainReader, pallet string) *Extractor {
	return &Extractor{
		chain:           chainReader,
		auctionsPrefix:  scale.EncodeHex(scale.StoragePrefix(pallet, "Auctions")),
		bidsPrefix:      scale.EncodeHex(scale.StoragePrefix(pallet, "Bids")),
		inAuctionPrefix: scale.EncodeHex(scale.StoragePrefix(pallet, "InAuction")),
		feeKey:          scale.EncodeHex(scale.StoragePrefix(pallet, "FeePercentage")),
		accFeesKey:      scale.EncodeHex(scale.StoragePrefix(pallet, "AccumulatedFees")),
	}
}

// Extract reads the pallet's storage as it existed at blockHash.
func (e *Extractor) Extract(ctx context.Context, blockHash string) (*Snapshot, error) {
	snapshot := new(Snapshot)

	if err := e.extractAuctions(ctx, blockHash, snapshot); err != nil {
		return nil, errors.Wrap(err, "auctions")
	}

	if err := e.extractBids(ctx, blockHash, snapshot); err != nil {
		return nil, errors.Wrap(err, "bids")
	}

	if err := e.extractStatus(ctx, blockHash, snapshot); err != nil {
		return nil, errors.Wrap(err, "in-auction flags")
	}

	if err := e.extractSettings(ctx, blockHash, snapshot); err != nil {
		return nil, errors.Wrap(err, "settings")
	}

	return snapshot, nil
}

func (e *Extractor) mapEntries(ctx context.Context, prefix, blockHash string) ([]chain.StorageChange, error) {
	keys, err := e.chain.StorageKeys(ctx, prefix, blockHash)
	if err != nil {
		return nil, err
	}

	return e.chain.QueryStorageAt(ctx, keys, blockHash)
}

func (e *Extractor) extractAuctions(ctx context.Context, blockHash string, snapshot *Snapshot) error {
	entries, err := e.mapEntries(ctx, e.auctionsPrefix, blockHash)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Value == nil {
			continue
		}

		record, err := decodeAuction(entry.Key, *entry.Value)
		if err != nil {
			return errors.Wrapf(err, "entry %s", entry.Key)
		}

		snapshot.Auctions = append(snapshot.Auctions, *record)
	}

	return nil
}

func decodeAuction(key, value string) (*AuctionRecord, error) {
	collectionID, itemID, err := scale.DecodeMapKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "key")
	}

	d, err := scale.FromHex(value)
	if err != nil {
		return nil, err
	}

	record := AuctionRecord{CollectionID: collectionID, ItemID: itemID}

	if record.Owner, err = d.AccountID(); err != nil {
		return nil, errors.Wrap(err, "owner")
	}

	startBlock, err := d.Uint32()
	if err != nil {
		return nil, errors.Wrap(err, "start block")
	}
	record.StartBlock = uint64(startBlock)

	if record.HighestBid, err = d.Uint128(); err != nil {
		return nil, errors.Wrap(err, "highest bid")
	}

	if record.HighestBidder, err = d.OptionAccountID(); err != nil {
		return nil, errors.Wrap(err, "highest bidder")
	}

	if record.Ended, err = d.Bool(); err != nil {
		return nil, errors.Wrap(err, "ended")
	}

	return &record, nil
}

func (e *Extractor) extractBids(ctx context.Context, blockHash string, snapshot *Snapshot) error {
	entries, err := e.mapEntries(ctx, e.bidsPrefix, blockHash)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Value == nil {
			continue
		}

		records, err := decodeBidList(entry.Key, *entry.Value)
		if err != nil {
			return errors.Wrapf(err, "entry %s", entry.Key)
		}

		snapshot.Bids = append(snapshot.Bids, records...)
	}

	return nil
}

func decodeBidList(key, value string) ([]BidRecord, error) {
	collectionID, itemID, err := scale.DecodeMapKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "key")
	}

	d, err := scale.FromHex(value)
	if err != nil {
		return nil, err
	}

	count, err := d.Compact()
	if err != nil {
		return nil, errors.Wrap(err, "bid count")
	}

	records := make([]BidRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		bidder, err := d.AccountID()
		if err != nil {
			return nil, errors.Wrapf(err, "bid %d bidder", i)
		}

		amount, err := d.Uint128()
		if err != nil {
			return nil, errors.Wrapf(err, "bid %d amount", i)
		}

		records = append(records, BidRecord{
			CollectionID: collectionID,
			ItemID:       itemID,
			Bidder:       bidder,
			Amount:       amount,
		})
	}

	return records, nil
}

func (e *Extractor) extractStatus(ctx context.Context, blockHash string, snapshot *Snapshot) error {
	entries, err := e.mapEntries(ctx, e.inAuctionPrefix, blockHash)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Value == nil {
			continue
		}

		collectionID, itemID, err := scale.DecodeMapKey(entry.Key)
		if err != nil {
			return errors.Wrapf(err, "entry %s: key", entry.Key)
		}

		d, err := scale.FromHex(*entry.Value)
		if err != nil {
			return errors.Wrapf(err, "entry %s", entry.Key)
		}

		inAuction, err := d.Bool()
		if err != nil {
			return errors.Wrapf(err, "entry %s: flag", entry.Key)
		}

		snapshot.Status = append(snapshot.Status, StatusRecord{
			CollectionID: collectionID,
			ItemID:       itemID,
			InAuction:    inAuction,
		})
	}

	return nil
}

func (e *Extractor) extractSettings(ctx context.Context, blockHash string, snapshot *Snapshot) error {
	feeValue, err := e.chain.GetStorage(ctx, e.feeKey, blockHash)
	if err != nil {
		return errors.Wrap(err, "fee percentage")
	}

	if feeValue != "" {
		d, err := scale.FromHex(feeValue)
		if err != nil {
			return errors.Wrap(err, "fee percentage")
		}

		fee, err := d.Uint8()
		if err != nil {
			return errors.Wrap(err, "fee percentage")
		}

		snapshot.FeePercentage = &fee
	}

	accValue, err := e.chain.GetStorage(ctx, e.accFeesKey, blockHash)
	if err != nil {
		return errors.Wrap(err, "accumulated fees")
	}

	if accValue != "" {
		d, err := scale.FromHex(accValue)
		if err != nil {
			return errors.Wrap(err, "accumulated fees")
		}

		if snapshot.AccumulatedFees, err = d.Uint128(); err != nil {
			return errors.Wrap(err, "accumulated fees")
		}
	}

	return nil
}
