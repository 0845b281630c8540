package types

import (
	"strings"
	"testing"
	"time"
)

func TestExtractString(t *testing.T) {
	tests := []struct {
		name string
		arg  interface{}
		want string
	}{
		{"string", "hello", "hello"},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
		{"float64", 3.5, "3.5"},
		{"bool true", true, "true"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractString(tt.arg); got != tt.want {
				t.Errorf("ExtractString(%v) = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}
}

func TestExtractInt64(t *testing.T) {
	if v, ok := ExtractInt64(float64(12)); !ok || v != 12 {
		t.Errorf("expected 12,true got %d,%v", v, ok)
	}
	if _, ok := ExtractInt64("12"); ok {
		t.Error("strings should not extract as int64")
	}
	ts := time.UnixMilli(1700000000000)
	if v, ok := ExtractInt64(ts); !ok || v != 1700000000000 {
		t.Errorf("expected epoch millis from time, got %d", v)
	}
}

func TestExtractBool(t *testing.T) {
	if v, ok := ExtractBool("TRUE"); !ok || !v {
		t.Error("expected case-insensitive true")
	}
	if _, ok := ExtractBool(int64(1)); ok {
		t.Error("numbers are not booleans")
	}
}

func TestExtractTime(t *testing.T) {
	got, ok := ExtractTime("2024-03-01")
	if !ok {
		t.Fatal("expected date string to parse")
	}
	if got.Year() != 2024 || got.Month() != time.March || got.Day() != 1 {
		t.Errorf("unexpected time %v", got)
	}
	if _, ok := ExtractTime("yesterday"); ok {
		t.Error("expected free text to fail")
	}
}

func TestExtractStrings(t *testing.T) {
	got := ExtractStrings([]interface{}{".csv", "", int64(3)})
	if len(got) != 2 || got[0] != ".csv" || got[1] != "3" {
		t.Errorf("unexpected %v", got)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("unexpected order %v", got)
	}
}
