package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads through an ordered list of stores and writes to the first.
//
// Callers MUST supply a fixed order; lookups try Adapters in slice order.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, ErrNoBackends
	}
	return m.Adapters[0].Put(ctx, data)
}

func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return getFirst(ctx, m.Adapters, id)
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	return hasAny(ctx, m.Adapters, id)
}

func getFirst(ctx context.Context, stores []CAS, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	for _, s := range stores {
		if s == nil {
			continue
		}
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func hasAny(ctx context.Context, stores []CAS, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	for _, s := range stores {
		if s == nil {
			continue
		}
		ok, err := s.Has(ctx, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
