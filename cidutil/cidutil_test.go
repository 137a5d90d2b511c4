package cidutil

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestSumIsStableAndVerifies(t *testing.T) {
	data := []byte{0x02, 0x00, 0x00}
	a, err := Sum(data)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	b, err := Sum([]byte{0x02, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if !a.Equals(b) {
		t.Fatalf("Sum not deterministic: %s vs %s", a, b)
	}
	if String(data) != a.String() {
		t.Fatalf("String mismatch: %s vs %s", String(data), a)
	}
	if !Verify(a, data) {
		t.Fatalf("Verify: expected true")
	}
	if Verify(a, []byte{0x02, 0x00, 0x01}) {
		t.Fatalf("Verify: expected false for different bytes")
	}
}

func TestParse(t *testing.T) {
	data := []byte("wall")
	want, err := Sum(data)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.Equals(want) {
		t.Fatalf("Parse: got %s want %s", got, want)
	}

	if _, err := Parse("not-a-cid"); err == nil {
		t.Fatalf("Parse: expected error for garbage")
	}

	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	dagpb := cid.NewCidV1(cid.DagProtobuf, mh)
	if _, err := Parse(dagpb.String()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Parse(dag-pb): got %v want ErrUnsupported", err)
	}
}
