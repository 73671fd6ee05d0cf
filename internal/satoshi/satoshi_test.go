package satoshi

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 100_000_000},
		{"0.00000001", 1},
		{"0.00000546", 546},
		{"21.5", 2_150_000_000},
		{"0.1", 10_000_000},
		{"1.00000000", 100_000_000},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "-1", "1.123456789", "abc", "1.2.3", "1e8"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00000000"},
		{1, "0.00000001"},
		{546, "0.00000546"},
		{100_000_000, "1.00000000"},
		{2_150_000_000, "21.50000000"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, sats := range []int64{0, 1, 546, 250, 99_999_999, 100_000_000, 123_456_789_012} {
		got, err := Parse(Format(sats))
		if err != nil {
			t.Fatalf("Parse(Format(%d)): %v", sats, err)
		}
		if got != sats {
			t.Errorf("round trip %d -> %d", sats, got)
		}
	}
}
