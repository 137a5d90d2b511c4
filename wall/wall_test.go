package wall

import (
	"errors"
	"math"
	"testing"
)

func TestRange(t *testing.T) {
	cases := []struct {
		name                  string
		latest, capacity, off uint64
		want                  Window
	}{
		{"unset", 0, 500, 0, Window{0, 1, 500}},
		{"first id", 1, 500, 0, Window{0, 1, 500}},
		{"last of first wall", 500, 500, 0, Window{0, 1, 500}},
		{"first of second wall", 501, 500, 0, Window{1, 501, 1000}},
		{"deep", 1234, 500, 0, Window{2, 1001, 1500}},
		{"below offset", 7, 10, 20, Window{0, 21, 30}},
		{"at offset", 20, 10, 20, Window{0, 21, 30}},
		{"after offset", 31, 10, 20, Window{1, 31, 40}},
		{"capacity one", 5, 1, 0, Window{4, 5, 5}},
	}
	for _, c := range cases {
		got, err := Range(c.latest, c.capacity, c.off)
		if err != nil {
			t.Fatalf("%s: Range: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: Range(%d, %d, %d) = %+v want %+v", c.name, c.latest, c.capacity, c.off, got, c.want)
		}
		if c.latest > c.off && !got.Contains(c.latest) {
			t.Fatalf("%s: window %+v does not contain %d", c.name, got, c.latest)
		}
	}
}

func TestRange_ZeroCapacity(t *testing.T) {
	if _, err := Range(10, 0, 0); !errors.Is(err, ErrZeroCapacity) {
		t.Fatalf("got %v want ErrZeroCapacity", err)
	}
	if _, err := (Layout{}).Window(0); !errors.Is(err, ErrZeroCapacity) {
		t.Fatalf("Window: got %v want ErrZeroCapacity", err)
	}
}

func TestWindowsTileIDSpace(t *testing.T) {
	l := Layout{Capacity: 7, Offset: 3}
	var prev Window
	for i := uint64(0); i < 50; i++ {
		w, err := l.Window(i)
		if err != nil {
			t.Fatalf("Window(%d): %v", i, err)
		}
		if w.Size() != l.Capacity {
			t.Fatalf("window %d size %d", i, w.Size())
		}
		if i == 0 && w.From != l.Offset+1 {
			t.Fatalf("first window starts at %d", w.From)
		}
		if i > 0 && w.From != prev.To+1 {
			t.Fatalf("gap between %+v and %+v", prev, w)
		}
		for id := w.From; id <= w.To; id++ {
			idx, ok, err := l.IndexOf(id)
			if err != nil || !ok || idx != i {
				t.Fatalf("IndexOf(%d) = %d, %v, %v want %d", id, idx, ok, err, i)
			}
			got, err := l.Range(id)
			if err != nil || got != w {
				t.Fatalf("Range(%d) = %+v, %v want %+v", id, got, err, w)
			}
		}
		prev = w
	}
	if _, ok, _ := l.IndexOf(3); ok {
		t.Fatalf("IndexOf(offset) should not be in any wall")
	}
}

func TestRange_Saturates(t *testing.T) {
	got, err := Range(math.MaxUint64, 500, 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if !got.Contains(math.MaxUint64) {
		t.Fatalf("window %+v does not contain MaxUint64", got)
	}
	w, err := Layout{Capacity: math.MaxUint64}.Window(3)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if w.From != math.MaxUint64 || w.To != math.MaxUint64 {
		t.Fatalf("expected saturated window, got %+v", w)
	}
}
