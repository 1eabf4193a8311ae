package gitops

import "testing"

func TestBranchNameDeterministic(t *testing.T) {
	a := BranchName("Fix null deref in parser!!", "a1b2c3d4e5f6")
	b := BranchName("Fix null deref in parser!!", "a1b2c3d4e5f6")
	if a != b {
		t.Fatalf("branch name not deterministic: %q vs %q", a, b)
	}
	want := "vk/fix-null-deref-in-parser-a1b2c3d4"
	if a != want {
		t.Fatalf("got %q, want %q", a, want)
	}
}

func TestBranchNameSlugCollapsesAndTrims(t *testing.T) {
	name := BranchName("  Weird   Title -- with ___ punctuation!!! ", "deadbeefcafe")
	if name != "vk/weird-title-with-punctuation-deadbeef" {
		t.Fatalf("unexpected branch name: %q", name)
	}
}

func TestSlugifyEmptyTitle(t *testing.T) {
	if got := slugify(""); got != "task" {
		t.Fatalf("expected fallback slug 'task', got %q", got)
	}
}

func TestSlugifyLengthBudget(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := slugify(long)
	if len(got) > maxSlugLen {
		t.Fatalf("slug exceeds length budget: %d", len(got))
	}
}
