package config

import (
	"strings"
	"testing"
)

const sample = `
# global
bank-main-size = 2G
bank-main-kind = hugepage

equipment-flp0-rate = 1000
equipment-flp0-linkId = 5
equipment-flp1-rate = 2000

consumer-file-path = /tmp/out
`

func TestParse_SkipsCommentsAndBlankLines(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, ok := c.Get("consumer-file-path")
	if !ok || v != "/tmp/out" {
		t.Errorf("consumer-file-path = %q, %v", v, ok)
	}
}

func TestSections_GroupsByName(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	secs := c.Sections("equipment")
	if len(secs) != 2 {
		t.Fatalf("len(secs) = %d, want 2", len(secs))
	}
	if secs[0].Name != "flp0" || secs[1].Name != "flp1" {
		t.Errorf("section names = %q, %q, want flp0, flp1", secs[0].Name, secs[1].Name)
	}
	rate, err := secs[0].GetInt("rate", 0)
	if err != nil || rate != 1000 {
		t.Errorf("flp0 rate = %d, %v, want 1000", rate, err)
	}
}

func TestParseSize_Suffixes(t *testing.T) {
	cases := map[string]int64{
		"64":  64,
		"1k":  1024,
		"1K":  1024,
		"64M": 64 * 1 << 20,
		"2G":  2 * 1 << 30,
		"1T":  1 << 40,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Errorf("ParseSize(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSize_Invalid(t *testing.T) {
	if _, err := ParseSize("not-a-size"); err == nil {
		t.Fatal("expected error for invalid size string")
	}
}

func TestFormatSize_LargestWholeUnit(t *testing.T) {
	if got := FormatSize(64 * 1 << 20); got != "64.0 MB" {
		t.Errorf("FormatSize = %q, want %q", got, "64.0 MB")
	}
}

func TestParse_MissingEquals(t *testing.T) {
	if _, err := Parse(strings.NewReader("garbage-line-no-equals")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
