package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/inmemory"
	"basewall.xyz/wallsign/storage/testkit"
)

func TestMultiCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.MultiCAS{Adapters: []storage.CAS{inmemory.New(), inmemory.New()}}
	})
}

func TestReplicatingCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.ReplicatingCAS{Backends: []storage.NamedCAS{
			{Name: "a", CAS: inmemory.New()},
			{Name: "b", CAS: inmemory.New()},
		}}
	})
}

func TestMultiCAS_ReadsFallBackInOrder(t *testing.T) {
	ctx := context.Background()
	primary, secondary := inmemory.New(), inmemory.New()
	id, err := secondary.Put(ctx, []byte("only in secondary"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	m := storage.MultiCAS{Adapters: []storage.CAS{primary, secondary}}
	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "only in secondary" {
		t.Fatalf("unexpected bytes %q", got)
	}
	if primary.Len() != 0 {
		t.Fatalf("reads must not write through")
	}
}

func TestReplicatingCAS_PutAll(t *testing.T) {
	ctx := context.Background()
	a, b := inmemory.New(), inmemory.New()
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{{Name: "a", CAS: a}, {Name: "b", CAS: b}}}

	id, perBackend, err := r.PutAll(ctx, []byte("wall"))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if len(perBackend) != 2 || !perBackend["a"].Equals(id) || !perBackend["b"].Equals(id) {
		t.Fatalf("unexpected per-backend map: %v", perBackend)
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("expected both backends to hold the object")
	}
}

func TestEmptyCombinators(t *testing.T) {
	ctx := context.Background()
	if _, err := (storage.MultiCAS{}).Put(ctx, []byte("x")); !errors.Is(err, storage.ErrNoBackends) {
		t.Fatalf("MultiCAS.Put: got %v", err)
	}
	if _, err := (storage.ReplicatingCAS{}).Put(ctx, []byte("x")); !errors.Is(err, storage.ErrNoBackends) {
		t.Fatalf("ReplicatingCAS.Put: got %v", err)
	}
	if _, err := (storage.MultiCAS{}).Get(ctx, cid.Undef); !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("MultiCAS.Get(undef): got %v", err)
	}
}
