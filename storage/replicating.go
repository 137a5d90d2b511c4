package storage

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"basewall.xyz/wallsign/cidutil"
)

// NamedCAS associates a CAS with a stable backend name.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS writes to every backend and reads from the first that has the
// object. All backends must agree on the CID of a write.
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = ReplicatingCAS{}

// PutAll writes data to all backends and returns the CID together with the
// CID each backend reported.
func (r ReplicatingCAS) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(ctx, data)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if !got.Equals(want) {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r ReplicatingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return getFirst(ctx, r.stores(), id)
}

func (r ReplicatingCAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	return hasAny(ctx, r.stores(), id)
}

func (r ReplicatingCAS) stores() []CAS {
	out := make([]CAS, 0, len(r.Backends))
	for _, b := range r.Backends {
		out = append(out, b.CAS)
	}
	return out
}
