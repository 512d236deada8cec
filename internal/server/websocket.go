package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"oxgame/internal/logger"
	"oxgame/internal/remote"
)

// clientConn is one connected store client. Writes from request handling
// and from subscription notifiers are serialized on writeMu.
type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[int64]func()
}

func (c *clientConn) reply(ctx context.Context, resp remote.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *clientConn) addSub(id int64, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.subs[id]; old != nil {
		old()
	}
	c.subs[id] = cancel
}

func (c *clientConn) cancelSub(id int64) {
	c.mu.Lock()
	cancel := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *clientConn) cancelAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[int64]func(){}
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // clients connect from anywhere
	})
	if err != nil {
		logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	connections.Inc()
	defer connections.Dec()

	ctx := r.Context()
	cl := &clientConn{conn: conn, subs: map[int64]func(){}}
	defer cl.cancelAll()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req remote.Request
		if err := json.Unmarshal(data, &req); err != nil {
			cl.reply(ctx, remote.Response{ID: req.ID, Error: "invalid request"})
			continue
		}
		s.handleRequest(ctx, cl, req)
	}
}

func (s *Server) handleRequest(ctx context.Context, cl *clientConn, req remote.Request) {
	requestsTotal.WithLabelValues(req.Op).Inc()

	switch req.Op {
	case remote.OpRead:
		value, _ := s.mem.Read(ctx, req.Key)
		cl.reply(ctx, remote.Response{ID: req.ID, Value: value})

	case remote.OpReadAll:
		values, _ := s.mem.ReadAll(ctx, req.Prefix)
		cl.reply(ctx, remote.Response{ID: req.ID, Values: values})

	case remote.OpWrite:
		s.mem.Write(ctx, req.Key, req.Value)
		s.persist(req.Key, req.Value)
		cl.reply(ctx, remote.Response{ID: req.ID})

	case remote.OpWriteMulti:
		s.mem.WriteMulti(ctx, req.Updates)
		for key, value := range req.Updates {
			s.persist(key, value)
		}
		cl.reply(ctx, remote.Response{ID: req.ID})

	case remote.OpTxGet:
		value, version := s.mem.ReadVersion(req.Key)
		cl.reply(ctx, remote.Response{ID: req.ID, Value: value, Version: version})

	case remote.OpTxPut:
		committed := s.mem.CompareAndSwap(req.Key, req.Version, req.Value)
		if committed {
			txRoundsTotal.WithLabelValues("commit").Inc()
			s.persist(req.Key, req.Value)
		} else {
			txRoundsTotal.WithLabelValues("conflict").Inc()
		}
		cl.reply(ctx, remote.Response{ID: req.ID, Committed: committed})

	case remote.OpSubscribe:
		subID := req.Sub
		cancel, _ := s.mem.Subscribe(ctx, req.Key, func(value []byte) {
			cl.reply(ctx, remote.Response{Sub: subID, Value: value})
		})
		cl.addSub(subID, cancel)
		cl.reply(ctx, remote.Response{ID: req.ID})

	case remote.OpSubscribePrefix:
		subID := req.Sub
		cancel, _ := s.mem.SubscribePrefix(ctx, req.Prefix, func(values map[string][]byte) {
			cl.reply(ctx, remote.Response{Sub: subID, Values: values})
		})
		cl.addSub(subID, cancel)
		cl.reply(ctx, remote.Response{ID: req.ID})

	case remote.OpUnsubscribe:
		cl.cancelSub(req.Sub)
		cl.reply(ctx, remote.Response{ID: req.ID})

	default:
		cl.reply(ctx, remote.Response{ID: req.ID, Error: "unknown op: " + req.Op})
	}
}
