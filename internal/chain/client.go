// Package chain implements a minimal Substrate JSON-RPC client over a
// websocket connection: new-head subscriptions and storage queries pinned
// to a historical block hash.
package chain

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/logger"
)

const (
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	keysPageSize  = 256
)

// Header is the per-block descriptor delivered on new-head notifications.
// The node does not include the block hash in the notification; it is
// resolved separately via chain_getBlockHash.
type Header struct {
	Number     uint64
	Hash       string
	ParentHash string
}

// StorageChange is one (key, value) entry from a state query. A nil Value
// means the key had no value at the queried block.
type StorageChange struct {
	Key   string
	Value *string
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

type callReply struct {
	result json.RawMessage
	err    error
}

// Client is a single websocket connection to the chain node. It is safe for
// concurrent use. When the transport drops, Done() is closed and Err()
// reports the cause; the client cannot be reused after that.
type Client struct {
	conn  *websocket.Conn
	reqID atomic.Uint64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan callReply

	subsMu sync.Mutex
	subs   map[string]chan json.RawMessage

	done     chan struct{}
	failOnce sync.Once
	err      error
}

// Dial connects to the node's websocket endpoint and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan callReply),
		subs:    make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}

	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "SetReadDeadline")
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. Nil until Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tears the connection down. Pending calls fail with ErrConnClosed.
func (c *Client) Close() error {
	c.fail(ErrConnClosed)
	return nil
}

// ErrConnClosed is reported by calls outstanding when Close is invoked.
var ErrConnClosed = errors.New("connection closed")

func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()

		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()
	})
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(errors.Wrap(err, "transport read"))
			return
		}

		var env rpcEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.Warnf("discarding unparseable rpc message: %v", err)
			continue
		}

		switch {
		case env.ID != nil:
			c.dispatchReply(&env)
		case env.Method != "":
			c.dispatchNotification(&env)
		}
	}
}

func (c *Client) dispatchReply(env *rpcEnvelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*env.ID]
	delete(c.pending, *env.ID)
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	reply := callReply{result: env.Result}
	if env.Error != nil {
		reply.err = env.Error
	}

	ch <- reply
}

func (c *Client) dispatchNotification(env *rpcEnvelope) {
	var params struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(env.Params, &params); err != nil {
		logger.Warnf("discarding unparseable %s notification: %v", env.Method, err)
		return
	}

	id := normalizeSubID(params.Subscription)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	ch, ok := c.subs[id]
	if !ok {
		return
	}

	select {
	case ch <- params.Result:
	default:
		logger.Warnf("subscription %s buffer full, dropping notification", id)
	}
}

// Subscription ids arrive as JSON strings or numbers depending on the node;
// normalize both to their textual form.
func normalizeSubID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return strings.TrimSpace(string(raw))
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			if err != nil {
				c.fail(errors.Wrap(err, "transport ping"))
				return
			}
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := c.reqID.Add(1)
	ch := make(chan callReply, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.fail(errors.Wrap(err, "transport write"))
		return errors.Wrapf(err, "%s: write", method)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.Wrapf(c.err, "%s: connection lost", method)
	case reply := <-ch:
		if reply.err != nil {
			return errors.Wrap(reply.err, method)
		}

		if out != nil {
			if err := json.Unmarshal(reply.result, out); err != nil {
				return errors.Wrapf(err, "%s: decoding result", method)
			}
		}

		return nil
	}
}

// BlockHash resolves a block number to its hash via chain_getBlockHash.
func (c *Client) BlockHash(ctx context.Context, number uint64) (string, error) {
	var hash *string
	if err := c.call(ctx, "chain_getBlockHash", []interface{}{number}, &hash); err != nil {
		return "", err
	}

	if hash == nil {
		return "", errors.Errorf("no hash known for block %d", number)
	}

	return *hash, nil
}

// ExtrinsicsCount returns the number of extrinsics in the block.
func (c *Client) ExtrinsicsCount(ctx context.Context, hash string) (int, error) {
	var result struct {
		Block struct {
			Extrinsics []json.RawMessage `json:"extrinsics"`
		} `json:"block"`
	}
	if err := c.call(ctx, "chain_getBlock", []interface{}{hash}, &result); err != nil {
		return 0, err
	}

	return len(result.Block.Extrinsics), nil
}

// StorageKeys lists every storage key under prefix as of block `at`,
// following state_getKeysPaged pagination.
func (c *Client) StorageKeys(ctx context.Context, prefix string, at string) ([]string, error) {
	var keys []string
	var startKey interface{}

	for {
		var page []string
		err := c.call(ctx, "state_getKeysPaged", []interface{}{prefix, keysPageSize, startKey, at}, &page)
		if err != nil {
			return nil, err
		}

		keys = append(keys, page...)
		if len(page) < keysPageSize {
			return keys, nil
		}

		startKey = page[len(page)-1]
	}
}

// QueryStorageAt reads the given keys as of block `at` via
// state_queryStorageAt and flattens the change sets.
func (c *Client) QueryStorageAt(ctx context.Context, keys []string, at string) ([]StorageChange, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var result []struct {
		Changes [][2]*string `json:"changes"`
	}
	if err := c.call(ctx, "state_queryStorageAt", []interface{}{keys, at}, &result); err != nil {
		return nil, err
	}

	var changes []StorageChange
	for _, set := range result {
		for _, kv := range set.Changes {
			if kv[0] == nil {
				continue
			}

			changes = append(changes, StorageChange{Key: *kv[0], Value: kv[1]})
		}
	}

	return changes, nil
}

// GetStorage reads one storage value as of block `at`. Returns "" when the
// key holds no value at that block.
func (c *Client) GetStorage(ctx context.Context, key string, at string) (string, error) {
	var value *string
	if err := c.call(ctx, "state_getStorage", []interface{}{key, at}, &value); err != nil {
		return "", err
	}

	if value == nil {
		return "", nil
	}

	return *value, nil
}
