package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"oxgame/internal/notify"
)

// channelPrefix namespaces the pub/sub channels that carry change
// notifications for store keys.
const channelPrefix = "oxgame:"

// Redis is a Store backed by a redis server. Transactions run as
// WATCH/MULTI optimistic rounds and retry on conflict; every write
// publishes the new value on the key's channel inside the same MULTI, so
// subscribers observe changes in commit order.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects a store to the redis server at addr.
func NewRedis(addr string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func channel(key string) string {
	return channelPrefix + key
}

func (r *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) ReadAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	out := make(map[string][]byte)
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Write(ctx context.Context, key string, value []byte) error {
	return r.WriteMulti(ctx, map[string][]byte{key: value})
}

func (r *Redis) WriteMulti(ctx context.Context, updates map[string][]byte) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range updates {
			publishWrite(ctx, pipe, key, value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write: %w", err)
	}
	return nil
}

// publishWrite queues the write (or delete) of key and its change
// notification. Deletes publish an empty payload, which subscribers map
// back to a missing key; stored values are JSON documents and never empty.
func publishWrite(ctx context.Context, pipe redis.Pipeliner, key string, value []byte) {
	if value == nil {
		pipe.Del(ctx, key)
		pipe.Publish(ctx, channel(key), "")
		return
	}
	pipe.Set(ctx, key, value, 0)
	pipe.Publish(ctx, channel(key), value)
}

func (r *Redis) Transact(ctx context.Context, key string, fn TxFunc) (bool, error) {
	committed := false
	round := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			publishWrite(ctx, pipe, key, next)
			return nil
		})
		if err == nil {
			committed = true
		}
		return err
	}

	for {
		err := r.rdb.Watch(ctx, round, key)
		switch {
		case err == nil:
			return committed, nil
		case errors.Is(err, ErrAbort):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			// Conflicting write since the read; run another round.
		default:
			return false, fmt.Errorf("redis transact %s: %w", key, err)
		}
	}
}

func (r *Redis) Subscribe(ctx context.Context, key string, fn func([]byte)) (func(), error) {
	current, err := r.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	ps := r.rdb.Subscribe(ctx, channel(key))
	n := notify.New(fn)
	n.Send(current)
	go func() {
		for msg := range ps.Channel() {
			if msg.Payload == "" {
				n.Send(nil)
				continue
			}
			n.Send([]byte(msg.Payload))
		}
	}()
	return func() {
		ps.Close()
		n.Close()
	}, nil
}

func (r *Redis) SubscribePrefix(ctx context.Context, prefix string, fn func(map[string][]byte)) (func(), error) {
	current, err := r.ReadAll(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ps := r.rdb.PSubscribe(ctx, channel(prefix)+"*")
	n := notify.New(fn)
	n.Send(current)
	go func() {
		for range ps.Channel() {
			values, err := r.ReadAll(ctx, prefix)
			if err != nil {
				continue
			}
			n.Send(values)
		}
	}()
	return func() {
		ps.Close()
		n.Close()
	}, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Store = (*Memory)(nil)
var _ Store = (*Redis)(nil)
