// Package api serves the read-only HTTP surface over the mirrored data:
// auction lookups, liveness, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/auctionchain/auction-mirror/internal/database"
	"github.com/auctionchain/auction-mirror/internal/logger"
)

type Server struct {
	db   *database.DB
	http *http.Server
}

func New(db *database.DB, listenAddr string) *Server {
	s := &Server{db: db}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/api/auctions", s.listAuctions).Methods(http.MethodGet)
	router.HandleFunc("/api/auctions/{collectionId}/{itemId}", s.getAuction).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Infof("api listening on %s", s.http.Addr)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return errors.Wrap(err, "api server")
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type auctionResponse struct {
	CollectionID    uint32        `json:"collectionId"`
	ItemID          uint32        `json:"itemId"`
	Owner           string        `json:"owner"`
	StartBlock      uint64        `json:"startBlock"`
	HighestBid      string        `json:"highestBid"`
	HighestBidder   *string       `json:"highestBidder"`
	Ended           bool          `json:"ended"`
	ObservedAtBlock uint64        `json:"observedAtBlock"`
	Bids            []bidResponse `json:"bids,omitempty"`
	InAuction       *bool         `json:"inAuction,omitempty"`
}

type bidResponse struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

func toAuctionResponse(a *database.Auction) auctionResponse {
	return auctionResponse{
		CollectionID:    a.CollectionID,
		ItemID:          a.ItemID,
		Owner:           a.OwnerAccount,
		StartBlock:      a.StartBlock,
		HighestBid:      a.HighestBid,
		HighestBidder:   a.HighestBidder,
		Ended:           a.Ended,
		ObservedAtBlock: a.ObservedAtBlock,
	}
}

func (s *Server) listAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.db.GetAllActiveAuctions(r.Context())
	if err != nil {
		logger.Errorf("listing auctions: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]auctionResponse, 0, len(auctions))
	for i := range auctions {
		out = append(out, toAuctionResponse(&auctions[i]))
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	collectionID, err := parseID(vars["collectionId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}

	itemID, err := parseID(vars["itemId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	atHash := r.URL.Query().Get("at")

	data, err := s.db.GetAuctionData(r.Context(), collectionID, itemID, atHash)
	switch {
	case errors.Is(err, database.ErrUnknownBlock):
		writeError(w, http.StatusNotFound, "unknown block hash")
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
		return
	case err != nil:
		logger.Errorf("auction (%d, %d): %v", collectionID, itemID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := toAuctionResponse(&data.Auction)
	resp.InAuction = data.InAuction
	resp.Bids = make([]bidResponse, 0, len(data.Bids))
	for _, bid := range data.Bids {
		resp.Bids = append(resp.Bids, bidResponse{Bidder: bid.BidderAccount, Amount: bid.Amount})
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
