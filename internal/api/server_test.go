package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/auctionchain/auction-mirror/internal/database"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()

	g, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	db, err := database.FromGorm(g)
	require.NoError(t, err)

	return New(db, ":0"), db
}

func seedAuction(t *testing.T, db *database.DB) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, db.SaveBlock(ctx, &database.Block{
		Number:    10,
		Hash:      testHash,
		IndexedAt: time.Now(),
	}))

	p := &database.Projection{
		BlockNumber: 10,
		Auctions: []database.Auction{{
			CollectionID:    7,
			ItemID:          9,
			ObservedAtBlock: 10,
			OwnerAccount:    "0xaa",
			StartBlock:      5,
			HighestBid:      "250",
			IndexedAt:       time.Now(),
		}},
		Bids: []database.Bid{{
			CollectionID:    7,
			ItemID:          9,
			ObservedAtBlock: 10,
			BidderAccount:   "0xbb",
			Amount:          "250",
		}},
	}
	require.NoError(t, db.SaveProjection(ctx, p))
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := get(t, server, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAuction(t *testing.T) {
	server, db := newTestServer(t)
	seedAuction(t, db)

	rec := get(t, server, "/api/auctions/7/9")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp auctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, uint32(7), resp.CollectionID)
	require.Equal(t, "250", resp.HighestBid)
	require.Len(t, resp.Bids, 1)
	require.Equal(t, "0xbb", resp.Bids[0].Bidder)
}

func TestGetAuctionPinned(t *testing.T) {
	server, db := newTestServer(t)
	seedAuction(t, db)

	rec := get(t, server, "/api/auctions/7/9?at="+testHash)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, server, "/api/auctions/7/9?at=0xdeadbeef")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAuctionNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rec := get(t, server, "/api/auctions/1/1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAuctionBadID(t *testing.T) {
	server, _ := newTestServer(t)

	rec := get(t, server, "/api/auctions/notanumber/1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAuctions(t *testing.T) {
	server, db := newTestServer(t)
	seedAuction(t, db)

	rec := get(t, server, "/api/auctions")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []auctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, uint32(7), resp[0].CollectionID)
}
