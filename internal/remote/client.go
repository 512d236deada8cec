package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"oxgame/internal/notify"
	"oxgame/internal/store"
)

var errClosed = errors.New("remote: connection closed")

// Client is a store.Store that talks to the store server over one
// websocket. Requests are multiplexed by id; subscription events are
// routed to per-subscription notifiers so a callback that issues further
// store calls cannot stall the read loop.
type Client struct {
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	nextSub  int64
	pending  map[int64]chan Response
	keySubs  map[int64]*notify.Notifier[[]byte]
	prefSubs map[int64]*notify.Notifier[map[string][]byte]
	closed   bool
}

// Dial connects to the store server at url (ws://host:port/ws).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		ctx:      cctx,
		cancel:   cancel,
		pending:  make(map[int64]chan Response),
		keySubs:  make(map[int64]*notify.Notifier[[]byte]),
		prefSubs: make(map[int64]*notify.Notifier[map[string][]byte]),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.fail()
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.ID != 0 {
			c.mu.Lock()
			ch := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
			continue
		}
		// Subscription event.
		c.mu.Lock()
		kn := c.keySubs[resp.Sub]
		pn := c.prefSubs[resp.Sub]
		c.mu.Unlock()
		if kn != nil {
			kn.Send(resp.Value)
		}
		if pn != nil {
			pn.Send(resp.Values)
		}
	}
}

// fail tears the client down after a connection error: every waiting call
// gets errClosed and every subscription stops.
func (c *Client) fail() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, n := range c.keySubs {
		n.Close()
		delete(c.keySubs, id)
	}
	for id, n := range c.prefSubs {
		n.Close()
		delete(c.prefSubs, id)
	}
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, errClosed
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.send(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Response{}, fmt.Errorf("store request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, errClosed
		}
		if resp.Error != "" {
			return Response{}, fmt.Errorf("store: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Response{}, ctx.Err()
	case <-c.ctx.Done():
		return Response{}, errClosed
	}
}

func (c *Client) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.call(ctx, Request{Op: OpRead, Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) ReadAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	resp, err := c.call(ctx, Request{Op: OpReadAll, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if resp.Values == nil {
		return map[string][]byte{}, nil
	}
	return resp.Values, nil
}

func (c *Client) Write(ctx context.Context, key string, value []byte) error {
	_, err := c.call(ctx, Request{Op: OpWrite, Key: key, Value: value})
	return err
}

func (c *Client) WriteMulti(ctx context.Context, updates map[string][]byte) error {
	_, err := c.call(ctx, Request{Op: OpWriteMulti, Updates: updates})
	return err
}

// Transact runs read-version / compare-and-swap rounds against the server
// until one commits, fn aborts, or the context expires.
func (c *Client) Transact(ctx context.Context, key string, fn store.TxFunc) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		read, err := c.call(ctx, Request{Op: OpTxGet, Key: key})
		if err != nil {
			return false, err
		}
		next, err := fn(read.Value)
		if err == store.ErrAbort {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		put, err := c.call(ctx, Request{Op: OpTxPut, Key: key, Version: read.Version, Value: next})
		if err != nil {
			return false, err
		}
		if put.Committed {
			return true, nil
		}
	}
}

func (c *Client) Subscribe(ctx context.Context, key string, fn func([]byte)) (func(), error) {
	n := notify.New(fn)
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.keySubs[id] = n
	c.mu.Unlock()

	if _, err := c.call(ctx, Request{Op: OpSubscribe, Key: key, Sub: id}); err != nil {
		c.dropSub(id)
		return nil, err
	}
	return func() { c.unsubscribe(id) }, nil
}

func (c *Client) SubscribePrefix(ctx context.Context, prefix string, fn func(map[string][]byte)) (func(), error) {
	n := notify.New(fn)
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.prefSubs[id] = n
	c.mu.Unlock()

	if _, err := c.call(ctx, Request{Op: OpSubscribePrefix, Prefix: prefix, Sub: id}); err != nil {
		c.dropSub(id)
		return nil, err
	}
	return func() { c.unsubscribe(id) }, nil
}

func (c *Client) unsubscribe(id int64) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.call(ctx, Request{Op: OpUnsubscribe, Sub: id})
		cancel()
	}
	c.dropSub(id)
}

func (c *Client) dropSub(id int64) {
	c.mu.Lock()
	kn := c.keySubs[id]
	pn := c.prefSubs[id]
	delete(c.keySubs, id)
	delete(c.prefSubs, id)
	c.mu.Unlock()
	if kn != nil {
		kn.Close()
	}
	if pn != nil {
		pn.Close()
	}
}

func (c *Client) Close() error {
	c.fail()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

var _ store.Store = (*Client)(nil)
