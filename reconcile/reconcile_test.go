package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/sigcodec"
	"basewall.xyz/wallsign/wall"
)

var testOpts = Options{Width: 820, Height: 820}

var firstWall = wall.Window{Index: 0, From: 1, To: 500}

func mustPayload(t *testing.T, x float64) Payload {
	t.Helper()
	b, err := sigcodec.Encode([]sigcodec.Stroke{{Points: []sigcodec.Point{{X: x, Y: x}, {X: x + 10, Y: x}}}}, 820, 820)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

func ev(t *testing.T, tx string, logIndex, block, token uint64) RawEvent {
	t.Helper()
	return RawEvent{
		Signer:      "0x00000000000000000000000000000000000000aa",
		TokenID:     token,
		Data:        mustPayload(t, float64(token)),
		TxHash:      tx,
		LogIndex:    logIndex,
		BlockNumber: block,
	}
}

func permuteIndices(n int) [][]int {
	var out [][]int
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var gen func(int)
	gen = func(i int) {
		if i == n {
			out = append(out, append([]int(nil), idx...))
			return
		}
		for j := i; j < n; j++ {
			idx[i], idx[j] = idx[j], idx[i]
			gen(i + 1)
			idx[i], idx[j] = idx[j], idx[i]
		}
	}
	gen(0)
	return out
}

func positions(res *Result) [][2]uint64 {
	var out [][2]uint64
	for _, e := range res.Events {
		out = append(out, [2]uint64{e.BlockNumber, e.LogIndex})
	}
	return out
}

func TestReconcile_OrdersByBlockThenLogIndex(t *testing.T) {
	raw := []RawEvent{
		ev(t, "0xb", 2, 5, 3),
		ev(t, "0xa", 9, 3, 1),
		ev(t, "0xc", 0, 5, 2),
	}
	res, err := Reconcile(raw, firstWall, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := [][2]uint64{{3, 9}, {5, 0}, {5, 2}}
	if got := positions(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v want %v", got, want)
	}
}

func TestReconcile_DuplicateDeliveryIsNoOp(t *testing.T) {
	a := ev(t, "0xaa", 1, 10, 1)
	b := ev(t, "0xbb", 0, 11, 2)

	once, err := Reconcile([]RawEvent{a, b}, firstWall, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	upper := a
	upper.TxHash = "0xAA"
	twice, err := Reconcile([]RawEvent{a, b, a, upper, b}, firstWall, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if twice.Duplicates != 3 {
		t.Fatalf("Duplicates = %d want 3", twice.Duplicates)
	}
	if !reflect.DeepEqual(once.Events, twice.Events) {
		t.Fatalf("duplicate delivery changed the result")
	}
	if len(twice.Events) != 2 {
		t.Fatalf("got %d events want 2", len(twice.Events))
	}
}

func TestReconcile_FiltersWindow(t *testing.T) {
	raw := []RawEvent{
		ev(t, "0x1", 0, 1, 499),
		ev(t, "0x2", 0, 2, 500),
		ev(t, "0x3", 0, 3, 501),
		ev(t, "0x4", 0, 4, 1000),
	}
	second := wall.Window{Index: 1, From: 501, To: 1000}
	res, err := Reconcile(raw, second, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].TokenID != 501 || res.Events[1].TokenID != 1000 {
		t.Fatalf("unexpected events: %+v", res.Events)
	}
	if res.OutOfRange != 2 {
		t.Fatalf("OutOfRange = %d want 2", res.OutOfRange)
	}
}

func TestReconcile_SkipsMalformedWithoutAborting(t *testing.T) {
	good := ev(t, "0x1", 0, 1, 1)
	bad := ev(t, "0x2", 0, 2, 2)
	bad.Data = Payload{0x02, 0x00, 0x01}

	res, err := Reconcile([]RawEvent{bad, good}, firstWall, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].TokenID != 1 {
		t.Fatalf("unexpected events: %+v", res.Events)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("Skipped = %+v", res.Skipped)
	}
	s := res.Skipped[0]
	if s.TokenID != 2 || s.Reason != sigcodec.RuleTruncatedStroke || !sigcodec.IsKind(s.Err, sigcodec.KindMalformed) {
		t.Fatalf("unexpected skip: %+v", s)
	}
}

func TestReconcile_StrictFailsOnSkip(t *testing.T) {
	good := ev(t, "0x1", 0, 1, 1)
	bad := ev(t, "0x2", 0, 2, 2)
	bad.Data = Payload{}

	opts := testOpts
	opts.Mode = compliance.Strict
	res, err := Reconcile([]RawEvent{good, bad}, firstWall, opts)
	if !IsKind(err, KindStrict) {
		t.Fatalf("got %v want KindStrict", err)
	}
	if res == nil || len(res.Skipped) != 1 {
		t.Fatalf("strict result should still report skips: %+v", res)
	}
	if !sigcodec.IsKind(err, sigcodec.KindMalformed) {
		t.Fatalf("strict error should wrap the codec error: %v", err)
	}

	if _, err := Reconcile([]RawEvent{good}, firstWall, opts); err != nil {
		t.Fatalf("strict without skips: %v", err)
	}
}

func TestReconcile_ConflictingDuplicates(t *testing.T) {
	a := ev(t, "0xdead", 4, 20, 7)
	b := a
	b.BlockNumber = 19
	b.TokenID = 8

	for _, raw := range [][]RawEvent{{a, b}, {b, a}, {a, b, a, b}} {
		res, err := Reconcile(raw, firstWall, testOpts)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if len(res.Events) != 1 || res.Events[0].TokenID != 8 || res.Events[0].BlockNumber != 19 {
			t.Fatalf("winner = %+v want block 19 token 8", res.Events)
		}
		if len(res.Skipped) != 1 || res.Skipped[0].Reason != ReasonConflict || res.Skipped[0].TokenID != 7 {
			t.Fatalf("unexpected skips: %+v", res.Skipped)
		}
	}
}

func TestReconcile_ConflictOutsideWindowIsNotSkipped(t *testing.T) {
	good := ev(t, "0x01", 0, 10, 1)
	a := ev(t, "0xdead", 4, 20, 700)
	b := a
	b.BlockNumber = 21

	for _, mode := range []compliance.ComplianceMode{compliance.Permissive, compliance.Strict} {
		opts := testOpts
		opts.Mode = mode
		res, err := Reconcile([]RawEvent{good, a, b}, firstWall, opts)
		if err != nil {
			t.Fatalf("%s: Reconcile: %v", mode, err)
		}
		if len(res.Events) != 1 || res.Events[0].TokenID != 1 {
			t.Fatalf("%s: events = %+v want token 1", mode, res.Events)
		}
		if len(res.Skipped) != 0 {
			t.Fatalf("%s: unexpected skips: %+v", mode, res.Skipped)
		}
		if res.OutOfRange != 1 {
			t.Fatalf("%s: OutOfRange = %d want 1", mode, res.OutOfRange)
		}
	}

	// The same pair is still a conflict on the wall that holds token 700.
	res, err := Reconcile([]RawEvent{good, a, b}, wall.Window{Index: 1, From: 501, To: 1000}, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].BlockNumber != 20 {
		t.Fatalf("winner = %+v want block 20", res.Events)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != ReasonConflict {
		t.Fatalf("unexpected skips: %+v", res.Skipped)
	}
}

func TestDeterminism_Reconcile_ShuffledInputs(t *testing.T) {
	bad := ev(t, "0x05", 1, 7, 6)
	bad.Data = Payload{0xff}
	inputs := []RawEvent{
		ev(t, "0x01", 3, 9, 4),
		ev(t, "0x02", 0, 9, 5),
		ev(t, "0x03", 0, 2, 2),
		ev(t, "0x03", 0, 2, 2),
		bad,
	}
	perms := permuteIndices(len(inputs))

	var golden *Result
	for run := 0; run < 25; run++ {
		for _, p := range perms {
			var raw []RawEvent
			for _, i := range p {
				raw = append(raw, inputs[i])
			}
			res, err := Reconcile(raw, firstWall, testOpts)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if golden == nil {
				golden = res
				continue
			}
			if !reflect.DeepEqual(res, golden) {
				t.Fatalf("nondeterministic result for permutation %v", p)
			}
			if res.Fingerprint() != golden.Fingerprint() {
				t.Fatalf("nondeterministic fingerprint for permutation %v", p)
			}
		}
	}
	if len(golden.Events) != 3 || golden.Duplicates != 1 || len(golden.Skipped) != 1 {
		t.Fatalf("unexpected golden result: %+v", golden)
	}
}

func TestReconcile_InvalidOptions(t *testing.T) {
	if _, err := Reconcile(nil, firstWall, Options{}); !IsKind(err, KindInvalidOptions) {
		t.Fatalf("got %v want KindInvalidOptions", err)
	}
}

func TestReconcile_EmptyInput(t *testing.T) {
	res, err := Reconcile(nil, firstWall, testOpts)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Events == nil || len(res.Events) != 0 {
		t.Fatalf("expected empty, non-nil events")
	}
	if len(res.Strokes()) != 0 {
		t.Fatalf("expected no strokes")
	}
}

func TestFetchAndReconcile_FetchFailureIsNotEmpty(t *testing.T) {
	boom := errors.New("rpc unavailable")
	src := FetcherFunc(func(ctx context.Context, w wall.Window) ([]RawEvent, error) {
		return nil, boom
	})
	res, err := FetchAndReconcile(context.Background(), src, firstWall, testOpts)
	if res != nil {
		t.Fatalf("fetch failure produced a result: %+v", res)
	}
	if !IsFetchFailure(err) || !errors.Is(err, boom) {
		t.Fatalf("got %v want fetch failure wrapping cause", err)
	}
}

func TestFetchAndReconcile_PassesWindow(t *testing.T) {
	var seen wall.Window
	src := FetcherFunc(func(ctx context.Context, w wall.Window) ([]RawEvent, error) {
		seen = w
		return []RawEvent{ev(t, "0x1", 0, 1, 1)}, nil
	})
	res, err := FetchAndReconcile(context.Background(), src, firstWall, testOpts)
	if err != nil {
		t.Fatalf("FetchAndReconcile: %v", err)
	}
	if seen != firstWall || len(res.Events) != 1 {
		t.Fatalf("seen=%+v events=%d", seen, len(res.Events))
	}
	if len(res.Strokes()) != 1 {
		t.Fatalf("Strokes() = %d want 1", len(res.Strokes()))
	}
}

func TestRawEvent_JSONHexPayload(t *testing.T) {
	in := `{"signer":"0xAB","tokenId":3,"data":"0x020000","txHash":"0xF00","logIndex":1,"blockNumber":2}`
	var e RawEvent
	if err := json.Unmarshal([]byte(in), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(e.Data) != 3 || e.Data[0] != 0x02 {
		t.Fatalf("Data = %x", []byte(e.Data))
	}
	if e.Key() != (Key{TxHash: "0xf00", LogIndex: 1}) {
		t.Fatalf("Key = %+v", e.Key())
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"data":"0x020000"`) {
		t.Fatalf("payload not hex encoded: %s", out)
	}
}
