package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetOptions controls a conditional string write. IfNotExists and IfExists
// are mutually exclusive. TTL of zero leaves the key without expiry.
type SetOptions struct {
	IfNotExists bool
	IfExists    bool
	TTL         time.Duration
}

// StringStore is the plain key-value shape over the shared store.
type StringStore struct {
	clients *Clients
}

func NewStringStore(clients *Clients) *StringStore {
	return &StringStore{clients: clients}
}

// Set writes value under key. With IfNotExists or IfExists the write is
// conditional and the bool result reports whether it was applied.
func (s *StringStore) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	if opts.IfNotExists && opts.IfExists {
		return false, &ProtocolError{Op: "set", Key: key, Detail: "both NX and XX requested"}
	}
	args := redis.SetArgs{TTL: opts.TTL}
	if opts.IfNotExists {
		args.Mode = "NX"
	} else if opts.IfExists {
		args.Mode = "XX"
	}
	res, err := s.clients.Master().SetArgs(ctx, key, value, args).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if res != "OK" {
		return false, &ProtocolError{Op: "set", Key: key, Detail: "unexpected reply " + res}
	}
	return true, nil
}

func (s *StringStore) Get(ctx context.Context, cons Consistency, key string) (string, error) {
	val, err := s.clients.Pick(cons).Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// MultiGet returns one entry per requested key; missing keys yield nil.
func (s *StringStore) MultiGet(ctx context.Context, cons Consistency, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.clients.Pick(cons).MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, &ProtocolError{Op: "mget", Key: keys[i], Detail: "non-string member"}
		}
		out[i] = &str
	}
	return out, nil
}

func (s *StringStore) Delete(ctx context.Context, key string) error {
	return s.clients.Master().Del(ctx, key).Err()
}

func (s *StringStore) Exists(ctx context.Context, cons Consistency, key string) (bool, error) {
	n, err := s.clients.Pick(cons).Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Incr atomically adds amount to the integer at key. When the increment
// creates the key, ttlOnFirst (if positive) is applied to it.
func (s *StringStore) Incr(ctx context.Context, key string, amount int64, ttlOnFirst time.Duration) (int64, error) {
	n, err := s.clients.Master().IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, err
	}
	if n == amount && ttlOnFirst > 0 {
		if err := s.clients.Master().PExpire(ctx, key, ttlOnFirst).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// PTTL returns the remaining TTL. ErrNotFound when the key does not exist;
// zero when the key exists without expiry.
func (s *StringStore) PTTL(ctx context.Context, cons Consistency, key string) (time.Duration, error) {
	d, err := s.clients.Pick(cons).PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis passes the -2 (missing key) and -1 (no expiry) replies
	// through as raw negative durations.
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, nil
	}
	return d, nil
}
