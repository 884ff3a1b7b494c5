package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "geotrack:"

// Cache implements ports.CacheService. Every key is namespaced under
// keyPrefix so the instance can share a valkey with other services.
type Cache struct {
	client valkey.Client
}

func New(addr string) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{addr},
		ConnWriteTimeout: 2 * time.Second,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect %s: %w", addr, err)
	}
	return &Cache{client: client}, nil
}

func ttl(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+key).Build()).AsBytes()
	switch {
	case valkey.IsValkeyNil(err):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return b, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return c.client.Do(ctx,
		c.client.B().Set().Key(keyPrefix+key).Value(valkey.BinaryString(value)).Ex(ttl(ttlSeconds)).Build(),
	).Error()
}

// SetNX writes key only when absent and reports whether it did. The
// notification router relies on it to claim an event for a recipient once.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error) {
	err := c.client.Do(ctx,
		c.client.B().Set().Key(keyPrefix+key).Value(valkey.BinaryString(value)).Nx().Ex(ttl(ttlSeconds)).Build(),
	).Error()
	switch {
	case valkey.IsValkeyNil(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("valkey setnx: %w", err)
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(keyPrefix+key).Build()).Error()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *Cache) Close() {
	c.client.Close()
}
