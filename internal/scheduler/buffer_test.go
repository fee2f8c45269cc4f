package scheduler

import (
	"regexp"
	"testing"
)

func TestStreamBufferDrainRespectsUTF8Boundary(t *testing.T) {
	var b streamBuffer
	b.Write([]byte("a€b")) // '€' is the 3-byte sequence e2 82 ac

	// Limit lands mid-rune (after "a" + first byte of €); drain must back
	// off to the previous full rune boundary rather than split it.
	out, truncated := b.drain(2)
	if string(out) != "a" {
		t.Fatalf("drain(2) = %q, want %q", out, "a")
	}
	if !truncated {
		t.Fatal("expected truncated=true")
	}

	rest, truncated := b.drain(0)
	if string(rest) != "€b" {
		t.Fatalf("drain(0) = %q, want %q", rest, "€b")
	}
	if truncated {
		t.Fatal("expected truncated=false once the remainder fits")
	}
}

func TestStreamBufferCapDropsOldest(t *testing.T) {
	var b streamBuffer
	big := make([]byte, outputCap+10)
	for i := range big {
		big[i] = 'x'
	}
	b.Write(big)

	out, dropped := b.takeAll()
	if dropped != 10 {
		t.Fatalf("dropped = %d, want 10", dropped)
	}
	if len(out) != outputCap {
		t.Fatalf("len(out) = %d, want %d", len(out), outputCap)
	}
}

func TestFilterLines(t *testing.T) {
	s := "error: boom\ninfo: ok\nerror: again\n"
	re := regexp.MustCompile(`^error:`)
	got := filterLines(s, re)
	want := "error: boom\nerror: again"
	if got != want {
		t.Fatalf("filterLines = %q, want %q", got, want)
	}
}

func TestFilterLinesNilPattern(t *testing.T) {
	s := "unchanged\ntext"
	if got := filterLines(s, nil); got != s {
		t.Fatalf("filterLines with nil pattern = %q, want %q", got, s)
	}
}
