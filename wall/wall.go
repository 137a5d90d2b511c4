// Package wall partitions the token id space into fixed-capacity walls.
//
// Token ids are 1-based. Ids at or below Offset belong to no wall; ids after it
// are tiled by consecutive windows of Capacity ids each.
package wall

import (
	"errors"
	"math"
	"math/bits"
)

// DefaultCapacity is the number of signatures a wall holds.
const DefaultCapacity = 500

// ErrZeroCapacity is returned when a layout has no room for any signature.
var ErrZeroCapacity = errors.New("wall: capacity must be positive")

// Window is an inclusive token id range.
type Window struct {
	Index uint64 `json:"index"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
}

// Contains reports whether id falls inside the window.
func (w Window) Contains(id uint64) bool {
	return id >= w.From && id <= w.To
}

// Size is the number of ids in the window.
func (w Window) Size() uint64 {
	if w.To < w.From {
		return 0
	}
	return w.To - w.From + 1
}

// Layout describes how walls tile the id space.
type Layout struct {
	Capacity uint64 `json:"capacity"`
	Offset   uint64 `json:"offset"`
}

// DefaultLayout is Capacity DefaultCapacity with no offset.
func DefaultLayout() Layout {
	return Layout{Capacity: DefaultCapacity}
}

// Validate checks the layout.
func (l Layout) Validate() error {
	if l.Capacity == 0 {
		return ErrZeroCapacity
	}
	return nil
}

// Range returns the window holding latest, the highest token id seen.
// A latest of 0 (nothing minted) or at or below the offset yields the first
// window.
func Range(latest, capacity, offset uint64) (Window, error) {
	return Layout{Capacity: capacity, Offset: offset}.Range(latest)
}

// Range returns the window holding latest. See Range.
func (l Layout) Range(latest uint64) (Window, error) {
	if err := l.Validate(); err != nil {
		return Window{}, err
	}
	if latest <= l.Offset {
		return l.window(0), nil
	}
	return l.window((latest - l.Offset - 1) / l.Capacity), nil
}

// Window returns the window with the given index.
func (l Layout) Window(index uint64) (Window, error) {
	if err := l.Validate(); err != nil {
		return Window{}, err
	}
	return l.window(index), nil
}

// IndexOf returns the index of the window holding id. ok is false for ids that
// precede every window.
func (l Layout) IndexOf(id uint64) (index uint64, ok bool, err error) {
	if err := l.Validate(); err != nil {
		return 0, false, err
	}
	if id <= l.Offset {
		return 0, false, nil
	}
	return (id - l.Offset - 1) / l.Capacity, true, nil
}

// window computes offset+index*capacity+1 .. offset+(index+1)*capacity,
// saturating at MaxUint64.
func (l Layout) window(index uint64) Window {
	start := mulAdd(index, l.Capacity, l.Offset)
	from := addSat(start, 1)
	to := addSat(start, l.Capacity)
	return Window{Index: index, From: from, To: to}
}

func mulAdd(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return addSat(lo, c)
}

func addSat(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}
