package extractor

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/scale"
)

const testBlockHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func mapKey(pallet, item string, collectionID, itemID uint32) string {
	raw := scale.StoragePrefix(pallet, item)
	raw = append(raw, make([]byte, 16)...)
	raw = binary.LittleEndian.AppendUint32(raw, collectionID)
	raw = binary.LittleEndian.AppendUint32(raw, itemID)

	return scale.EncodeHex(raw)
}

func accountBytes(fill byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}

	return b
}

func accountHex(fill byte) string {
	return scale.EncodeHex(accountBytes(fill))
}

func encodeAuction(owner byte, startBlock uint32, highestBid uint64, bidder *byte, ended bool) string {
	var raw []byte
	raw = append(raw, accountBytes(owner)...)
	raw = binary.LittleEndian.AppendUint32(raw, startBlock)

	bid := make([]byte, 16)
	binary.LittleEndian.PutUint64(bid, highestBid)
	raw = append(raw, bid...)

	if bidder == nil {
		raw = append(raw, 0)
	} else {
		raw = append(raw, 1)
		raw = append(raw, accountBytes(*bidder)...)
	}

	if ended {
		raw = append(raw, 1)
	} else {
		raw = append(raw, 0)
	}

	return scale.EncodeHex(raw)
}

func encodeBidList(bids ...struct {
	bidder byte
	amount uint64
}) string {
	raw := []byte{byte(len(bids) << 2)} // compact single-byte mode
	for _, b := range bids {
		raw = append(raw, accountBytes(b.bidder)...)

		amount := make([]byte, 16)
		binary.LittleEndian.PutUint64(amount, b.amount)
		raw = append(raw, amount...)
	}

	return scale.EncodeHex(raw)
}

func TestDecodeAuction(t *testing.T) {
	bidder := byte(0x02)
	value := encodeAuction(0x01, 100, 250, &bidder, false)

	record, err := decodeAuction(mapKey("Template", "Auctions", 7, 9), value)
	require.NoError(t, err)

	require.Equal(t, uint32(7), record.CollectionID)
	require.Equal(t, uint32(9), record.ItemID)
	require.Equal(t, accountHex(0x01), record.Owner)
	require.Equal(t, uint64(100), record.StartBlock)
	require.Equal(t, "250", record.HighestBid.Dec())
	require.NotNil(t, record.HighestBidder)
	require.Equal(t, accountHex(0x02), *record.HighestBidder)
	require.False(t, record.Ended)
}

func TestDecodeAuctionNoBidder(t *testing.T) {
	value := encodeAuction(0x01, 5, 0, nil, true)

	record, err := decodeAuction(mapKey("Template", "Auctions", 1, 1), value)
	require.NoError(t, err)

	require.Nil(t, record.HighestBidder)
	require.Equal(t, "0", record.HighestBid.Dec())
	require.True(t, record.Ended)
}

func TestDecodeAuctionTruncated(t *testing.T) {
	value := encodeAuction(0x01, 5, 0, nil, true)
	truncated := value[:len(value)-4]

	_, err := decodeAuction(mapKey("Template", "Auctions", 1, 1), truncated)
	require.Error(t, err)
}

func TestDecodeBidList(t *testing.T) {
	type bid = struct {
		bidder byte
		amount uint64
	}
	value := encodeBidList(bid{0x0a, 50}, bid{0x0b, 60})

	records, err := decodeBidList(mapKey("Template", "Bids", 7, 9), value)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, accountHex(0x0a), records[0].Bidder)
	require.Equal(t, "50", records[0].Amount.Dec())
	require.Equal(t, accountHex(0x0b), records[1].Bidder)
	require.Equal(t, "60", records[1].Amount.Dec())

	for _, r := range records {
		require.Equal(t, uint32(7), r.CollectionID)
		require.Equal(t, uint32(9), r.ItemID)
	}
}

func TestDecodeBidListEmpty(t *testing.T) {
	records, err := decodeBidList(mapKey("Template", "Bids", 7, 9), "0x00")
	require.NoError(t, err)
	require.Empty(t, records)
}

// fakeChain serves a canned storage state, keyed by hex storage key.
type fakeChain struct {
	values map[string]string
}

func (f *fakeChain) StorageKeys(_ context.Context, prefix string, _ string) ([]string, error) {
	var keys []string
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (f *fakeChain) QueryStorageAt(_ context.Context, keys []string, _ string) ([]chain.StorageChange, error) {
	var changes []chain.StorageChange
	for _, key := range keys {
		if value, ok := f.values[key]; ok {
			v := value
			changes = append(changes, chain.StorageChange{Key: key, Value: &v})
		}
	}

	return changes, nil
}

func (f *fakeChain) GetStorage(_ context.Context, key string, _ string) (string, error) {
	return f.values[key], nil
}

func TestExtract(t *testing.T) {
	bidder := byte(0x02)
	type bid = struct {
		bidder byte
		amount uint64
	}

	fee := make([]byte, 16)
	fee[0] = 123

	fake := &fakeChain{values: map[string]string{
		mapKey("Template", "Auctions", 7, 9):       encodeAuction(0x01, 100, 60, &bidder, false),
		mapKey("Template", "Bids", 7, 9):           encodeBidList(bid{0x0a, 50}, bid{0x02, 60}),
		mapKey("Template", "InAuction", 7, 9):      "0x01",
		scale.EncodeHex(scale.StoragePrefix("Template", "FeePercentage")):   "0x05",
		scale.EncodeHex(scale.StoragePrefix("Template", "AccumulatedFees")): scale.EncodeHex(fee),
	}}

	snapshot, err := New(fake, "Template").Extract(context.Background(), testBlockHash)
	require.NoError(t, err)

	require.Len(t, snapshot.Auctions, 1)
	require.Equal(t, uint32(7), snapshot.Auctions[0].CollectionID)
	require.Equal(t, "60", snapshot.Auctions[0].HighestBid.Dec())

	require.Len(t, snapshot.Bids, 2)

	require.Len(t, snapshot.Status, 1)
	require.True(t, snapshot.Status[0].InAuction)

	require.NotNil(t, snapshot.FeePercentage)
	require.Equal(t, uint8(5), *snapshot.FeePercentage)

	require.NotNil(t, snapshot.AccumulatedFees)
	require.Equal(t, "123", snapshot.AccumulatedFees.Dec())
}

func TestExtractAbsentSettings(t *testing.T) {
	snapshot, err := New(&fakeChain{values: map[string]string{}}, "Template").
		Extract(context.Background(), testBlockHash)
	require.NoError(t, err)

	require.Empty(t, snapshot.Auctions)
	require.Nil(t, snapshot.FeePercentage)
	require.Nil(t, snapshot.AccumulatedFees)
}
