// Package eventlog persists raw Signed records between syncs in a Badger
// database, keyed so that iteration yields chain order.
package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"

	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/wall"
)

var (
	eventPrefix = []byte("ev/")
	cursorKey   = []byte("meta/cursor")
)

// ErrOutOfRange is returned when ReplaceRange receives an event outside the
// block range it replaces.
var ErrOutOfRange = errors.New("eventlog: event outside replaced range")

// Log is a Badger-backed event store. It is safe for concurrent use.
type Log struct {
	db *badger.DB
}

var _ reconcile.Fetcher = (*Log)(nil)

// Open opens the store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = log.WithField("component", "eventlog")
	if dir == "" {
		opts.InMemory = true
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", dir, err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Cursor returns the last block covered by a ReplaceRange call. ok is false
// before the first sync.
func (l *Log) Cursor(ctx context.Context) (block uint64, ok bool, err error) {
	err = l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("eventlog: corrupt cursor (%d bytes)", len(v))
			}
			block, ok = binary.BigEndian.Uint64(v), true
			return nil
		})
	})
	return block, ok, err
}

// ReplaceRange atomically drops every stored event with a block number in
// [from, to], stores events in their place and moves the cursor to to.
// Replacing a range again with fresh chain data undoes a reorg.
func (l *Log) ReplaceRange(ctx context.Context, from, to uint64, events []reconcile.RawEvent) error {
	if from > to {
		return fmt.Errorf("eventlog: empty range %d-%d", from, to)
	}
	for _, e := range events {
		if e.BlockNumber < from || e.BlockNumber > to {
			return fmt.Errorf("%w: block %d not in %d-%d", ErrOutOfRange, e.BlockNumber, from, to)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: eventPrefix})
		for it.Seek(blockPrefix(from)); it.ValidForPrefix(eventPrefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if blockOf(k) > to {
				break
			}
			stale = append(stale, k)
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for _, e := range events {
			v, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(eventKey(e), v); err != nil {
				return err
			}
		}
		return txn.Set(cursorKey, binary.BigEndian.AppendUint64(nil, to))
	})
}

// All returns every stored event in (BlockNumber, LogIndex, TxHash) order.
func (l *Log) All(ctx context.Context) ([]reconcile.RawEvent, error) {
	var out []reconcile.RawEvent
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: eventPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e reconcile.RawEvent
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return fmt.Errorf("eventlog: decode %x: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchEvents serves the stored log to the reconciler. Window filtering is
// left to reconcile so that out-of-range records are still counted.
func (l *Log) FetchEvents(ctx context.Context, _ wall.Window) ([]reconcile.RawEvent, error) {
	return l.All(ctx)
}

func blockPrefix(block uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), eventPrefix...), block)
}

func eventKey(e reconcile.RawEvent) []byte {
	k := binary.BigEndian.AppendUint64(blockPrefix(e.BlockNumber), e.LogIndex)
	return append(k, e.Key().TxHash...)
}

func blockOf(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(eventPrefix):])
}
