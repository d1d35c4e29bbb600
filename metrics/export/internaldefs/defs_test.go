package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	seenNames := make(map[string]bool, len(CounterDefs))
	seenIDs := make(map[uint16]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "goaccount_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		if seenNames[def.Name] {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		if seenIDs[uint16(def.ID)] {
			t.Fatalf("duplicate counter id %d", def.ID)
		}
		seenNames[def.Name] = true
		seenIDs[uint16(def.ID)] = true
	}
	for _, def := range HistogramDefs {
		if seenIDs[uint16(def.ID)] {
			t.Fatalf("histogram id %d also exported as counter", def.ID)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(HistogramBounds) != len(got) || len(HistogramBoundSuffix) != len(got) {
		t.Fatal("bucket bounds out of sync with bucket count")
	}
}
