// Package rediscas stores blobs in Redis under "<prefix><cid>" keys.
package rediscas

import (
	"bytes"
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/redis/go-redis/v9"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/storage"
)

// DefaultPrefix namespaces blob keys.
const DefaultPrefix = "wallsign:blob:"

type CAS struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ storage.CAS = (*CAS)(nil)

// New wraps rdb. An empty prefix uses DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *CAS {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CAS{rdb: rdb, prefix: prefix}
}

// Open parses a redis:// URL and returns a CAS backed by a new client along
// with its close function.
func Open(url string) (*CAS, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	return New(rdb, ""), rdb.Close, nil
}

func (c *CAS) key(id cid.Cid) string { return c.prefix + id.String() }

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	created, err := c.rdb.SetNX(ctx, c.key(id), data, 0).Result()
	if err != nil {
		return cid.Undef, err
	}
	if created {
		return id, nil
	}
	existing, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil || !bytes.Equal(existing, data) {
		return cid.Undef, storage.ErrImmutable
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Verify(id, b) {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, c.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
