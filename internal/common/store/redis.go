// internal/common/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"poppins-pipeline/internal/events"
)

const (
	redisEventChannel = "pipeline:events"
	casRetries        = 5
)

// Redis is the primary Store backend. Documents are JSON strings under
// "doc:<collection>:<id>"; each collection keeps a set of its ids under
// "col:<collection>". Create events travel over pub/sub.
type Redis struct {
	client *redis.Client
}

// RedisOptions mirrors the connection settings of the config layer.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

func NewRedis(opts RedisOptions) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	return &Redis{client: rdb}
}

// NewRedisFromClient wraps an existing client (used by tests).
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping tests the connection.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func docKey(collection, id string) string {
	return "doc:" + collection + ":" + id
}

func colKey(collection string) string {
	return "col:" + collection
}

func (s *Redis) Get(ctx context.Context, collection, id string, out interface{}) error {
	data, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Redis) Set(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// go-redis serializes []byte natively, json.RawMessage it does not.
		pipe.Set(ctx, docKey(collection, id), []byte(data), 0)
		pipe.SAdd(ctx, colKey(collection), id)
		return nil
	})
	return err
}

func (s *Redis) Create(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	if err := s.Set(ctx, collection, id, json.RawMessage(data)); err != nil {
		return err
	}
	return s.Publish(ctx, events.Event{Collection: collection, ID: id, Doc: data})
}

func (s *Redis) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	key := docKey(collection, id)
	for attempt := 0; attempt < casRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			merged, err := applyPatch(data, fields)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, merged, 0)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("patch %s: too many concurrent writers", key)
}

func (s *Redis) UpdateIf(ctx context.Context, collection, id, field string, expect interface{}, patch map[string]interface{}) (bool, error) {
	key := docKey(collection, id)
	applied := false
	for attempt := 0; attempt < casRetries; attempt++ {
		applied = false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if !matchFilters(data, []Filter{Where(field, OpEqual, expect)}) {
				return nil
			}
			merged, err := applyPatch(data, patch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, merged, 0)
				return nil
			})
			if err == nil {
				applied = true
			}
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return applied, err
		}
	}
	return false, fmt.Errorf("update %s: too many concurrent writers", key)
}

func (s *Redis) Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Record, error) {
	ids, err := s.ListIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, id := range ids {
		data, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matchFilters(data, filters) {
			continue
		}
		out = append(out, Record{ID: id, Data: data})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Redis) ListIDs(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, colKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Redis) Exists(ctx context.Context, collection, id string) (bool, error) {
	n, err := s.client.Exists(ctx, docKey(collection, id)).Result()
	return n > 0, err
}

func (s *Redis) BatchWrite(ctx context.Context, ops []WriteOp) error {
	// Patches are staged by reading current state first; the writes
	// themselves commit in one MULTI/EXEC block, all or nothing.
	staged := make([][]byte, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case WriteSet:
			data, err := marshalDoc(op.Doc)
			if err != nil {
				return err
			}
			staged[i] = data
		case WritePatch:
			data, err := s.client.Get(ctx, docKey(op.Collection, op.ID)).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			merged, err := applyPatch(data, op.Patch)
			if err != nil {
				return err
			}
			staged[i] = merged
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			switch op.Kind {
			case WriteSet, WritePatch:
				pipe.Set(ctx, docKey(op.Collection, op.ID), staged[i], 0)
				pipe.SAdd(ctx, colKey(op.Collection), op.ID)
			case WriteDelete:
				pipe.Del(ctx, docKey(op.Collection, op.ID))
				pipe.SRem(ctx, colKey(op.Collection), op.ID)
			}
		}
		return nil
	})
	return err
}

func (s *Redis) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.SRem(ctx, colKey(collection), id)
		return nil
	})
	return err
}

func (s *Redis) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, redisEventChannel, payload).Err()
}

func (s *Redis) Events(ctx context.Context) (<-chan events.Event, error) {
	sub := s.client.Subscribe(ctx, redisEventChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan events.Event, 256)
	go func() {
		defer close(out)
		defer sub.Close()
		for msg := range sub.Channel() {
			var ev events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
