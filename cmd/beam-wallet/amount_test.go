package main

import "testing"

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0 groths"},
		{69, "69 groths"},
		{1_000_000, "1 beams"},
		{3_000_250, "3 beams 250 groths"},
	}
	for _, c := range cases {
		if got := FormatAmount(c.in); got != c.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"1", 1_000_000, true},
		{"1.5", 1_500_000, true},
		{"0.000001", 1, true},
		{"30g", 30, true},
		{"", 0, false},
		{"1.2345678", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.ok && err != nil {
			t.Errorf("ParseAmount(%q) error: %v", c.in, err)
			continue
		}
		if !c.ok {
			if err == nil {
				t.Errorf("ParseAmount(%q) should fail", c.in)
			}
			continue
		}
		if got != c.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
