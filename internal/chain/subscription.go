package chain

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"encoding/json"

	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/logger"
)

const notificationBuffer = 16

// HeadSubscription delivers new best-chain headers in arrival order.
//
// These are *best* heads, not finalized ones: a mirrored block may later be
// dropped from the canonical chain. Finality tracking is deliberately out of
// scope.
type HeadSubscription struct {
	Headers <-chan Header

	c      *Client
	id     string
	closed sync.Once
}

type headerJSON struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash"`
}

// SubscribeNewHeads registers a chain_subscribeNewHeads subscription. Each
// notification's block hash is resolved via chain_getBlockHash before the
// header is emitted. The Headers channel closes when the subscription ends,
// whether by Unsubscribe or by connection loss.
func (c *Client) SubscribeNewHeads(ctx context.Context) (*HeadSubscription, error) {
	var rawID json.RawMessage
	if err := c.call(ctx, "chain_subscribeNewHeads", nil, &rawID); err != nil {
		return nil, err
	}

	id := normalizeSubID(rawID)
	raw := make(chan json.RawMessage, notificationBuffer)

	c.subsMu.Lock()
	c.subs[id] = raw
	c.subsMu.Unlock()

	out := make(chan Header, notificationBuffer)
	sub := &HeadSubscription{Headers: out, c: c, id: id}

	go sub.pump(raw, out)

	return sub, nil
}

func (s *HeadSubscription) pump(raw <-chan json.RawMessage, out chan<- Header) {
	defer close(out)

	for msg := range raw {
		var hj headerJSON
		if err := json.Unmarshal(msg, &hj); err != nil {
			logger.Errorf("discarding unparseable header notification: %v", err)
			continue
		}

		number, err := parseHexUint(hj.Number)
		if err != nil {
			logger.Errorf("discarding header with bad number %q: %v", hj.Number, err)
			continue
		}

		hash, err := s.c.BlockHash(context.Background(), number)
		if err != nil {
			logger.Errorf("block %d: resolving hash: %v", number, err)
			continue
		}

		out <- Header{Number: number, Hash: hash, ParentHash: hj.ParentHash}
	}
}

// Unsubscribe stops future deliveries. It must be called before establishing
// a replacement subscription so that two feeds never run concurrently.
func (s *HeadSubscription) Unsubscribe(ctx context.Context) {
	s.closed.Do(func() {
		var ok bool
		err := s.c.call(ctx, "chain_unsubscribeNewHeads", []interface{}{s.id}, &ok)
		if err != nil && !errors.Is(err, ErrConnClosed) {
			logger.Warnf("unsubscribe %s: %v", s.id, err)
		}

		s.c.subsMu.Lock()
		if ch, exists := s.c.subs[s.id]; exists {
			close(ch)
			delete(s.c.subs, s.id)
		}
		s.c.subsMu.Unlock()
	})
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
