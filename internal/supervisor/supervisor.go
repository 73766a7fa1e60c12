// Package supervisor owns the websocket connection lifecycle: it dials the
// node, keeps a new-heads subscription alive, and reconnects with capped
// exponential backoff when the transport drops.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/logger"
	"github.com/auctionchain/auction-mirror/internal/metrics"
)

// ErrReconnectExhausted is returned by Run when the configured number of
// consecutive reconnect attempts all fail.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrNotConnected is returned by storage reads issued while no connection
// is established.
var ErrNotConnected = errors.New("not connected to chain node")

// Conn is one live connection to the node.
type Conn interface {
	SubscribeHeads(ctx context.Context) (Subscription, error)
	ExtrinsicsCount(ctx context.Context, hash string) (int, error)
	StorageKeys(ctx context.Context, prefix string, at string) ([]string, error)
	QueryStorageAt(ctx context.Context, keys []string, at string) ([]chain.StorageChange, error)
	GetStorage(ctx context.Context, key string, at string) (string, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Subscription is a live new-heads feed on a Conn.
type Subscription interface {
	Headers() <-chan chain.Header
	Unsubscribe(ctx context.Context)
}

// DialFunc establishes a new connection. Supervisor calls it once per
// connect or reconnect attempt.
type DialFunc func(ctx context.Context) (Conn, error)

// DialChain adapts chain.Dial to DialFunc.
func DialChain(url string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, err := chain.Dial(ctx, url)
		if err != nil {
			return nil, err
		}

		return chainConn{c}, nil
	}
}

type chainConn struct {
	*chain.Client
}

func (c chainConn) SubscribeHeads(ctx context.Context) (Subscription, error) {
	sub, err := c.Client.SubscribeNewHeads(ctx)
	if err != nil {
		return nil, err
	}

	return chainSub{sub}, nil
}

type chainSub struct {
	sub *chain.HeadSubscription
}

func (s chainSub) Headers() <-chan chain.Header { return s.sub.Headers }

func (s chainSub) Unsubscribe(ctx context.Context) { s.sub.Unsubscribe(ctx) }

// Sink receives every header in arrival order. It may block; blocking here
// backpressures header consumption, not the websocket read loop.
type Sink interface {
	Enqueue(ctx context.Context, header chain.Header) error
}

// Supervisor keeps one connection and one head subscription alive at a time.
// It also serves as the storage reader for extraction, delegating to the
// current connection; reads issued while reconnecting fail fast with
// ErrNotConnected and are retried by the caller's backoff.
type Supervisor struct {
	dial        DialFunc
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu      sync.RWMutex
	current Conn // nil while disconnected
}

func New(dial DialFunc, baseDelay, maxDelay time.Duration, maxAttempts int) *Supervisor {
	return &Supervisor{
		dial:        dial,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
	}
}

// Delay computes the pause before reconnect attempt n (1-based):
// min(base * 2^n, max). With 1s base and 30s cap the schedule runs
// 2s, 4s, 8s, 16s, 30s.
func Delay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}

	return d
}

// Run drives the connect/serve/reconnect loop until ctx is cancelled or the
// reconnect budget is spent. Returns nil on cancellation and
// ErrReconnectExhausted when maxAttempts consecutive connections fail.
func (s *Supervisor) Run(ctx context.Context, sink Sink) error {
	attempts := 0

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			logger.Errorf("connecting to chain node: %v", err)
		} else {
			attempts = 0
			s.setConn(conn)
			s.serve(ctx, conn, sink)
			s.clearConn()
			_ = conn.Close()
		}

		if ctx.Err() != nil {
			return nil
		}

		attempts++
		if attempts > s.maxAttempts {
			return errors.Wrapf(ErrReconnectExhausted, "after %d attempts", s.maxAttempts)
		}

		delay := Delay(attempts, s.baseDelay, s.maxDelay)
		metrics.Reconnects.Inc()
		logger.Warnf("reconnecting in %s (attempt %d/%d)", delay, attempts, s.maxAttempts)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// serve runs one connection: subscribe, pump headers to the sink, and tear
// the subscription down before returning. The unsubscribe always precedes
// the next subscribe so two feeds never overlap.
func (s *Supervisor) serve(ctx context.Context, conn Conn, sink Sink) {
	sub, err := conn.SubscribeHeads(ctx)
	if err != nil {
		logger.Errorf("subscribing to new heads: %v", err)
		return
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		sub.Unsubscribe(unsubCtx)
	}()

	logger.Info("subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			logger.Errorf("connection lost: %v", conn.Err())
			return
		case header, ok := <-sub.Headers():
			if !ok {
				return
			}

			metrics.ChainHead.Set(float64(header.Number))
			if err := sink.Enqueue(ctx, header); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) setConn(conn Conn) {
	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()
}

func (s *Supervisor) clearConn() {
	s.setConn(nil)
}

// conn returns the live connection or ErrNotConnected.
func (s *Supervisor) conn() (Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, ErrNotConnected
	}

	return s.current, nil
}

// The storage-read methods below let the Supervisor stand in for a direct
// connection in extraction and block reads, surviving reconnects.

func (s *Supervisor) ExtrinsicsCount(ctx context.Context, hash string) (int, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}

	return c.ExtrinsicsCount(ctx, hash)
}

func (s *Supervisor) StorageKeys(ctx context.Context, prefix string, at string) ([]string, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.StorageKeys(ctx, prefix, at)
}

func (s *Supervisor) QueryStorageAt(ctx context.Context, keys []string, at string) ([]chain.StorageChange, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.QueryStorageAt(ctx, keys, at)
}

func (s *Supervisor) GetStorage(ctx context.Context, key string, at string) (string, error) {
	c, err := s.conn()
	if err != nil {
		return "", err
	}

	return c.GetStorage(ctx, key, at)
}
