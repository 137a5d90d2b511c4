// Package inmemory is a process-local storage.CAS.
package inmemory

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/storage"
)

type CAS struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ storage.CAS = (*CAS)(nil)

func New() *CAS {
	return &CAS{objects: make(map[string][]byte)}
}

func (c *CAS) Put(_ context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	key := id.KeyString()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.objects[key]; ok {
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}
	c.objects[key] = bytes.Clone(data)
	return id, nil
}

func (c *CAS) Get(_ context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	b, ok := c.objects[id.KeyString()]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !cidutil.Verify(id, b) {
		return nil, storage.ErrCIDMismatch
	}
	return bytes.Clone(b), nil
}

func (c *CAS) Has(_ context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	c.mu.RLock()
	_, ok := c.objects[id.KeyString()]
	c.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}
