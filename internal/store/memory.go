package store

import (
	"context"
	"strings"
	"sync"

	"oxgame/internal/notify"
)

type entry struct {
	value   []byte
	version uint64
}

// Memory is an in-process Store built on versioned compare-and-swap
// writes. It is the state the store server hosts, and the store the tests
// race simulated clients against. Versions come from a single monotonic
// counter, so a delete-and-recreate can never satisfy a stale swap.
type Memory struct {
	mu       sync.Mutex
	data     map[string]entry
	clock    uint64
	keySubs  map[int]*keySub
	prefSubs map[int]*prefixSub
	nextSub  int
}

type keySub struct {
	key string
	n   *notify.Notifier[[]byte]
}

type prefixSub struct {
	prefix string
	n      *notify.Notifier[map[string][]byte]
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]entry),
		keySubs:  make(map[int]*keySub),
		prefSubs: make(map[int]*prefixSub),
	}
}

func (m *Memory) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneValue(m.data[key].value), nil
}

// ReadVersion returns the value at key together with its version; a
// missing key has version 0. The version feeds CompareAndSwap, which is
// how remote clients run their transaction rounds.
func (m *Memory) ReadVersion(key string) ([]byte, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.data[key]
	return cloneValue(e.value), e.version
}

// CompareAndSwap installs value at key only if the key's version still
// equals version, and reports whether it did. A nil value deletes.
func (m *Memory) CompareAndSwap(key string, version uint64, value []byte) bool {
	m.mu.Lock()
	if m.data[key].version != version {
		m.mu.Unlock()
		return false
	}
	m.setLocked(key, value)
	m.notifyLocked(key)
	m.mu.Unlock()
	return true
}

func (m *Memory) Write(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.setLocked(key, value)
	m.notifyLocked(key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) WriteMulti(ctx context.Context, updates map[string][]byte) error {
	m.mu.Lock()
	for key, value := range updates {
		m.setLocked(key, value)
	}
	for key := range updates {
		m.notifyLocked(key)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Transact(ctx context.Context, key string, fn TxFunc) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		current, version := m.ReadVersion(key)
		next, err := fn(current)
		if err == ErrAbort {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if m.CompareAndSwap(key, version, next) {
			return true, nil
		}
	}
}

func (m *Memory) ReadAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(prefix), nil
}

func (m *Memory) Subscribe(ctx context.Context, key string, fn func([]byte)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &keySub{key: key, n: notify.New(fn)}
	m.keySubs[id] = sub
	sub.n.Send(cloneValue(m.data[key].value))
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.keySubs, id)
		m.mu.Unlock()
		sub.n.Close()
	}, nil
}

func (m *Memory) SubscribePrefix(ctx context.Context, prefix string, fn func(map[string][]byte)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &prefixSub{prefix: prefix, n: notify.New(fn)}
	m.prefSubs[id] = sub
	sub.n.Send(m.snapshotLocked(prefix))
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.prefSubs, id)
		m.mu.Unlock()
		sub.n.Close()
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.keySubs {
		sub.n.Close()
		delete(m.keySubs, id)
	}
	for id, sub := range m.prefSubs {
		sub.n.Close()
		delete(m.prefSubs, id)
	}
	return nil
}

func (m *Memory) setLocked(key string, value []byte) {
	if value == nil {
		delete(m.data, key)
		return
	}
	m.clock++
	m.data[key] = entry{value: cloneValue(value), version: m.clock}
}

func (m *Memory) notifyLocked(key string) {
	value := m.data[key].value
	for _, sub := range m.keySubs {
		if sub.key == key {
			sub.n.Send(cloneValue(value))
		}
	}
	for _, sub := range m.prefSubs {
		if strings.HasPrefix(key, sub.prefix) {
			sub.n.Send(m.snapshotLocked(sub.prefix))
		}
	}
}

func (m *Memory) snapshotLocked(prefix string) map[string][]byte {
	out := make(map[string][]byte)
	for key, e := range m.data {
		if strings.HasPrefix(key, prefix) {
			out[key] = cloneValue(e.value)
		}
	}
	return out
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
