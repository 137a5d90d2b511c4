// Package casconfig opens the blob store selected by configuration.
package casconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/grpccas"
	"basewall.xyz/wallsign/storage/inmemory"
	"basewall.xyz/wallsign/storage/localfs"
	"basewall.xyz/wallsign/storage/rediscas"
)

// Backend names.
const (
	LocalFS  = "localfs"
	InMemory = "inmemory"
	Redis    = "redis"
	GRPC     = "grpc"
)

// Write policies.
const (
	// WriteFirst writes to the first backend; reads fall back in order.
	WriteFirst = "first"
	// WriteAll writes to every backend and requires CID agreement.
	WriteAll = "all"
)

var supportedBackends = map[string]struct{}{
	LocalFS: {}, InMemory: {}, Redis: {}, GRPC: {},
}

// Config describes one or more backends in read order.
type Config struct {
	Backends    []string
	WritePolicy string

	LocalDir    string
	RedisURL    string
	GRPCTarget  string
	GRPCTimeout time.Duration
}

// ParseBackends splits a comma separated backend list.
func ParseBackends(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("casconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if _, ok := supportedBackends[b]; !ok {
			return fmt.Errorf("casconfig: unknown backend %q", b)
		}
		if _, ok := seen[b]; ok {
			return fmt.Errorf("casconfig: duplicate backend %q", b)
		}
		seen[b] = struct{}{}
		switch {
		case b == LocalFS && c.LocalDir == "":
			return errors.New("casconfig: localfs backend requires a directory")
		case b == Redis && c.RedisURL == "":
			return errors.New("casconfig: redis backend requires a url")
		case b == GRPC && c.GRPCTarget == "":
			return errors.New("casconfig: grpc backend requires a target")
		}
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("casconfig: invalid write policy %q", c.WritePolicy)
	}
}

// Open opens every backend and combines them per WritePolicy. The returned
// function closes whatever the backends hold open.
func (c Config) Open() (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]storage.NamedCAS, 0, len(c.Backends))
	var closers []func() error
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range c.Backends {
		cas, closeFn, err := c.open(b)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("casconfig: open %s: %w", b, err)
		}
		named = append(named, storage.NamedCAS{Name: b, CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return storage.ReplicatingCAS{Backends: named}, closeAll, nil
	}
	adapters := make([]storage.CAS, 0, len(named))
	for _, n := range named {
		adapters = append(adapters, n.CAS)
	}
	return storage.MultiCAS{Adapters: adapters}, closeAll, nil
}

func (c Config) open(name string) (storage.CAS, func() error, error) {
	switch name {
	case LocalFS:
		cas, err := localfs.New(c.LocalDir)
		return cas, nil, err
	case InMemory:
		return inmemory.New(), nil, nil
	case Redis:
		return rediscas.Open(c.RedisURL)
	case GRPC:
		client, err := grpccas.Dial(c.GRPCTarget, grpccas.DialOptions{Timeout: c.GRPCTimeout})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}
