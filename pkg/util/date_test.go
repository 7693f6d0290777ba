package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseDate(t *testing.T) {
	got, ok := ParseDate("2025-01-17")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Year() != 2025 || got.Month() != time.January || got.Day() != 17 {
		t.Fatalf("unexpected date %v", got)
	}
	if _, ok := ParseDate("01/17/2025"); ok {
		t.Fatalf("expected failure for non-ISO date")
	}
}

func TestParseWindowDays(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"90d", 30, 90},
		{"120", 30, 120},
		{"", 30, 30},
		{"0d", 30, 30},
		{"junk", 30, 30},
	}
	for _, c := range cases {
		if got := ParseWindowDays(c.in, c.def); got != c.want {
			t.Fatalf("ParseWindowDays(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
