// Package reconcile turns an unordered, possibly duplicated batch of Signed
// logs into the deterministic sequence of signatures shown on one wall.
//
// Reconcile is a pure function of its inputs: the same multiset of records
// yields the same Result regardless of delivery order or repetition.
package reconcile

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/sigcodec"
	"basewall.xyz/wallsign/wall"
)

// Options configures decoding.
type Options struct {
	// Width and Height are the canvas the strokes are mapped onto.
	Width  float64
	Height float64

	// Mode is passed to the codec. In Strict mode any skipped record also
	// fails the call.
	Mode compliance.ComplianceMode
}

func (o Options) validate() error {
	ok := func(v float64) bool { return v > 0 && !math.IsInf(v, 0) }
	if !ok(o.Width) || !ok(o.Height) {
		return newError(KindInvalidOptions, RuleOptions,
			fmt.Sprintf("reconcile: invalid canvas %vx%v", o.Width, o.Height))
	}
	return nil
}

// Result is the outcome of one reconciliation.
type Result struct {
	Window wall.Window `json:"window"`
	// Events are ordered by (BlockNumber, LogIndex, TxHash).
	Events []Event `json:"events"`
	// Skipped lists records left out, ordered by key.
	Skipped []Skip `json:"skipped,omitempty"`
	// Duplicates counts records identical to one already seen.
	Duplicates int `json:"duplicates"`
	// OutOfRange counts unique records whose token id is outside Window.
	OutOfRange int `json:"outOfRange"`
}

// Strokes flattens the strokes of every event in order.
func (r *Result) Strokes() []sigcodec.Stroke {
	var n int
	for _, e := range r.Events {
		n += len(e.Strokes)
	}
	out := make([]sigcodec.Stroke, 0, n)
	for _, e := range r.Events {
		out = append(out, e.Strokes...)
	}
	return out
}

// Fingerprint identifies the accepted content of the result: the window and
// every event's position and payload. Results with equal fingerprints render
// identically.
func (r *Result) Fingerprint() string {
	buf := make([]byte, 0, 24+len(r.Events)*64)
	buf = binary.BigEndian.AppendUint64(buf, r.Window.Index)
	buf = binary.BigEndian.AppendUint64(buf, r.Window.From)
	buf = binary.BigEndian.AppendUint64(buf, r.Window.To)
	for _, e := range r.Events {
		buf = binary.BigEndian.AppendUint64(buf, e.BlockNumber)
		buf = binary.BigEndian.AppendUint64(buf, e.LogIndex)
		buf = binary.BigEndian.AppendUint64(buf, e.TokenID)
		buf = append(buf, e.TxHash...)
		buf = append(buf, 0)
		buf = append(buf, e.PayloadCID...)
		buf = append(buf, 0)
	}
	return cidutil.String(buf)
}

// Reconcile deduplicates raw by (TxHash, LogIndex), keeps records whose token
// id lies in window, decodes their payloads and orders them.
//
// Records that fail to decode are reported in Result.Skipped and do not abort
// the batch. Records sharing a key but differing in content resolve to the one
// with the smallest (BlockNumber, TokenID, Signer, Data); the rest are skipped
// with ReasonConflict when their token id lies in window. In Strict mode a non-empty Skipped list also returns an
// error of kind KindStrict alongside the result.
func Reconcile(raw []RawEvent, window wall.Window, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	res := &Result{Window: window, Events: []Event{}}

	variants := make(map[Key][]RawEvent, len(raw))
	for _, e := range raw {
		k := e.Key()
		vs := variants[k]
		dup := false
		for _, v := range vs {
			if sameContent(v, e) {
				dup = true
				break
			}
		}
		if dup {
			res.Duplicates++
			continue
		}
		variants[k] = append(vs, e)
	}

	for k, vs := range variants {
		if len(vs) > 1 {
			sort.Slice(vs, func(i, j int) bool { return contentLess(vs[i], vs[j]) })
			for _, loser := range vs[1:] {
				// A conflict on another wall's token is not this wall's skip.
				if !window.Contains(loser.TokenID) {
					continue
				}
				res.Skipped = append(res.Skipped, Skip{
					Key:     k,
					TokenID: loser.TokenID,
					Reason:  ReasonConflict,
					Err: wrapError(KindConflict, RuleConflict,
						fmt.Sprintf("reconcile: %s: conflicting record for token %d", k, loser.TokenID), nil),
				})
			}
		}
		e := vs[0]
		if !window.Contains(e.TokenID) {
			res.OutOfRange++
			continue
		}

		strokes, err := sigcodec.DecodeWithOptions(e.Data, opts.Width, opts.Height, sigcodec.DecodeOptions{Mode: opts.Mode})
		if err != nil {
			reason := sigcodec.RuleID(err)
			if reason == "" {
				reason = "undecodable"
			}
			res.Skipped = append(res.Skipped, Skip{Key: k, TokenID: e.TokenID, Reason: reason, Err: err})
			continue
		}
		format, _ := sigcodec.DetectFormat(e.Data)
		res.Events = append(res.Events, Event{
			Signer:      normalizeHex(e.Signer),
			TokenID:     e.TokenID,
			Strokes:     strokes,
			Format:      format.String(),
			TxHash:      k.TxHash,
			LogIndex:    k.LogIndex,
			BlockNumber: e.BlockNumber,
			PayloadCID:  sigcodec.PayloadCID(e.Data),
		})
	}

	sort.Slice(res.Events, func(i, j int) bool {
		a, b := res.Events[i], res.Events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.TxHash < b.TxHash
	})
	sort.Slice(res.Skipped, func(i, j int) bool {
		a, b := res.Skipped[i], res.Skipped[j]
		if a.Key.TxHash != b.Key.TxHash {
			return a.Key.TxHash < b.Key.TxHash
		}
		if a.Key.LogIndex != b.Key.LogIndex {
			return a.Key.LogIndex < b.Key.LogIndex
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.TokenID < b.TokenID
	})

	if opts.Mode == compliance.Strict && len(res.Skipped) > 0 {
		first := res.Skipped[0]
		return res, wrapError(KindStrict, RuleStrict,
			fmt.Sprintf("reconcile: %d records skipped (first %s: %s)", len(res.Skipped), first.Key, first.Reason), first.Err)
	}
	return res, nil
}

// Fetcher supplies the raw records for a window. Implementations talk to the
// chain or a local event log.
type Fetcher interface {
	FetchEvents(ctx context.Context, window wall.Window) ([]RawEvent, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, window wall.Window) ([]RawEvent, error)

func (f FetcherFunc) FetchEvents(ctx context.Context, window wall.Window) ([]RawEvent, error) {
	return f(ctx, window)
}

// FetchAndReconcile fetches the records for window and reconciles them. A
// fetch error is returned as KindFetch; it is never reported as an empty
// result.
func FetchAndReconcile(ctx context.Context, src Fetcher, window wall.Window, opts Options) (*Result, error) {
	raw, err := src.FetchEvents(ctx, window)
	if err != nil {
		return nil, wrapError(KindFetch, RuleFetch, "reconcile: fetch events", err)
	}
	return Reconcile(raw, window, opts)
}
