package normalizer

import (
	"testing"
	"time"
)

func TestStderrProcessorCoalescesWithinGap(t *testing.T) {
	index := NewEntryIndexProvider()
	sink := &memorySink{}
	p := newStderrProcessor(index, sink, time.Hour)

	p.Feed("\x1b[31merror: boom\x1b[0m")
	p.Feed("  at foo.go:10")

	if len(sink.Patches) != 2 {
		t.Fatalf("expected two patches (add then replace), got %d", len(sink.Patches))
	}
	if sink.Patches[0].Op != "add" {
		t.Fatalf("expected first patch to be add, got %q", sink.Patches[0].Op)
	}
	if sink.Patches[1].Op != "replace" {
		t.Fatalf("expected second patch to replace the same index, got %q", sink.Patches[1].Op)
	}
	if sink.Patches[1].Index != sink.Patches[0].Index {
		t.Fatalf("expected coalesced lines to target the same index")
	}
	if sink.Patches[1].Entry.Content != "error: boom\n  at foo.go:10" {
		t.Fatalf("unexpected coalesced content: %q", sink.Patches[1].Entry.Content)
	}
}

func TestStderrProcessorOpensNewEntryAfterGap(t *testing.T) {
	index := NewEntryIndexProvider()
	sink := &memorySink{}
	p := newStderrProcessor(index, sink, time.Millisecond)

	p.Feed("first error")
	time.Sleep(5 * time.Millisecond)
	p.Feed("second error")

	if sink.Patches[1].Index == sink.Patches[0].Index {
		t.Fatalf("expected a gap to open a new entry, got same index twice")
	}
}
