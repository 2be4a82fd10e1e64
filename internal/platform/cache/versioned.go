package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Versioned caches JSON payloads under keys suffixed with a per-scope version.
// Bumping the version orphans every key of that scope; TTL reclaims them.
type Versioned struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	group     singleflight.Group
}

// NewVersioned builds a Versioned cache. A nil client turns every call into a pass-through.
func NewVersioned(client *redis.Client, namespace string, ttl time.Duration) *Versioned {
	return &Versioned{client: client, namespace: namespace, ttl: ttl}
}

func (c *Versioned) versionKey(scope int64) string {
	return fmt.Sprintf("%s:version:%d", c.namespace, scope)
}

func (c *Versioned) channel() string {
	return c.namespace + ":bump"
}

// Version returns the current version for scope, initialising when missing.
func (c *Versioned) Version(ctx context.Context, scope int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, c.versionKey(scope)).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, c.versionKey(scope), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, c.versionKey(scope)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes namespace, scope, parts and the current version.
func (c *Versioned) BuildKey(ctx context.Context, scope int64, parts ...string) (string, error) {
	if c == nil {
		return strings.Join(parts, ":"), nil
	}
	base := strings.Join(append([]string{c.namespace, strconv.FormatInt(scope, 10)}, parts...), ":")
	if c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, scope)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using loader. Concurrent misses on the
// same key share one loader call.
func (c *Versioned) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("platform/cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, loader, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates every key of scope and notifies listeners.
func (c *Versioned) Bump(ctx context.Context, scope int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	if _, err := c.Version(ctx, scope); err != nil {
		return err
	}
	ver, err := c.client.Incr(ctx, c.versionKey(scope)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.channel(), fmt.Sprintf("%d:%d", scope, ver)).Err()
}

// ListenForInvalidation keeps the local Redis in sync with bumps published elsewhere,
// for deployments that read from a replica-local cache.
func (c *Versioned) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				scopeStr, verStr, found := strings.Cut(msg.Payload, ":")
				if !found {
					continue
				}
				scope, err1 := strconv.ParseInt(scopeStr, 10, 64)
				ver, err2 := strconv.ParseInt(verStr, 10, 64)
				if err1 != nil || err2 != nil {
					continue
				}
				current, err := c.client.Get(ctx, c.versionKey(scope)).Int64()
				if err == nil && current >= ver {
					continue
				}
				_ = c.client.Set(ctx, c.versionKey(scope), ver, 0).Err()
			}
		}
	}()
	return nil
}

func load(ctx context.Context, loader func(context.Context) (any, error), dest any) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
