package indexer_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/database"
	"github.com/auctionchain/auction-mirror/internal/extractor"
	"github.com/auctionchain/auction-mirror/internal/indexer"
)

func testDB(t *testing.T) *database.DB {
	g, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	db, err := database.FromGorm(g)
	require.NoError(t, err)

	return db
}

type fakeBlocks struct {
	count int
	err   error
}

func (f *fakeBlocks) ExtrinsicsCount(context.Context, string) (int, error) {
	return f.count, f.err
}

type fakeExtractor struct {
	snapshot *extractor.Snapshot
	err      error
}

func (f *fakeExtractor) Extract(context.Context, string) (*extractor.Snapshot, error) {
	return f.snapshot, f.err
}

var testHeader = chain.Header{
	Number:     10,
	Hash:       "0x1111111111111111111111111111111111111111111111111111111111111111",
	ParentHash: "0x2222222222222222222222222222222222222222222222222222222222222222",
}

func TestIndexProjectsSnapshot(t *testing.T) {
	db := testDB(t)

	owner := "0x0101010101010101010101010101010101010101010101010101010101010101"
	snapshot := &extractor.Snapshot{
		Auctions: []extractor.AuctionRecord{{
			CollectionID: 7,
			ItemID:       9,
			Owner:        owner,
			StartBlock:   5,
			HighestBid:   uint256.NewInt(250),
			Ended:        false,
		}},
		Status: []extractor.StatusRecord{{CollectionID: 7, ItemID: 9, InAuction: true}},
	}

	ix := indexer.New(db, &fakeBlocks{count: 3}, &fakeExtractor{snapshot: snapshot}, indexer.BestEffort{})
	ix.Index(context.Background(), testHeader)

	data, err := db.GetAuctionData(context.Background(), 7, 9, testHeader.Hash)
	require.NoError(t, err)
	require.Equal(t, "250", data.Auction.HighestBid)
	require.Equal(t, uint64(10), data.Auction.ObservedAtBlock)
	require.Empty(t, data.Bids)
	require.NotNil(t, data.InAuction)
	require.True(t, *data.InAuction)
}

func TestIndexNilBalancesRenderAsZero(t *testing.T) {
	db := testDB(t)

	snapshot := &extractor.Snapshot{
		Auctions: []extractor.AuctionRecord{{CollectionID: 1, ItemID: 2, Owner: "0xaa"}},
	}

	ix := indexer.New(db, &fakeBlocks{}, &fakeExtractor{snapshot: snapshot}, indexer.BestEffort{})
	ix.Index(context.Background(), testHeader)

	data, err := db.GetAuctionData(context.Background(), 1, 2, "")
	require.NoError(t, err)
	require.Equal(t, "0", data.Auction.HighestBid)
}

func TestIndexSettings(t *testing.T) {
	db := testDB(t)

	fee := uint8(5)
	snapshot := &extractor.Snapshot{
		FeePercentage:   &fee,
		AccumulatedFees: uint256.NewInt(4200),
	}

	ix := indexer.New(db, &fakeBlocks{}, &fakeExtractor{snapshot: snapshot}, indexer.BestEffort{})
	ix.Index(context.Background(), testHeader)

	setting, err := db.GetSetting(context.Background(), database.SettingFeePercentage)
	require.NoError(t, err)
	require.Equal(t, "5", setting.SettingValue)

	setting, err = db.GetSetting(context.Background(), database.SettingAccumulatedFees)
	require.NoError(t, err)
	require.Equal(t, "4200", setting.SettingValue)
	require.Equal(t, uint64(10), setting.ObservedAtBlock)
}

func TestIndexFailureBestEffort(t *testing.T) {
	db := testDB(t)

	ext := &fakeExtractor{err: errors.New("storage query failed")}
	ix := indexer.New(db, &fakeBlocks{}, ext, indexer.BestEffort{})

	// must not panic or write a projection
	ix.Index(context.Background(), testHeader)

	_, err := db.GetAuctionData(context.Background(), 7, 9, "")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIndexFailureDeadLetter(t *testing.T) {
	db := testDB(t)

	ext := &fakeExtractor{err: errors.New("storage query failed")}
	ix := indexer.New(db, &fakeBlocks{}, ext, indexer.DeadLetter{DB: db})

	ix.Index(context.Background(), testHeader)

	skipped, err := db.GetSkippedBlocks(context.Background())
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	require.Equal(t, testHeader.Number, skipped[0].Number)
	require.Contains(t, skipped[0].Reason, "storage query failed")
}
