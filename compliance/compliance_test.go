package compliance

import "testing"

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    ComplianceMode
		wantErr bool
	}{
		{"", Permissive, false},
		{"permissive", Permissive, false},
		{"STRICT", Strict, false},
		{" strict ", Strict, false},
		{"lenient", Permissive, true},
	}
	for _, c := range cases {
		got, err := ParseMode(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("ParseMode(%q): err=%v wantErr=%v", c.in, err, c.wantErr)
		}
		if got != c.want {
			t.Fatalf("ParseMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if Strict.String() != "strict" || Permissive.String() != "permissive" {
		t.Fatalf("unexpected String(): %s %s", Strict, Permissive)
	}
}
