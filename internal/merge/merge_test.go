package merge

import "testing"

func TestMerge_IdenticalContent_NoConflict(t *testing.T) {
	res := Merge("same\ncontent", "same\ncontent", "local", "remote")
	if res.HasConflicts || res.ConflictCount != 0 {
		t.Fatalf("expected no conflicts for identical content, got %+v", res)
	}
	if res.Content != "same\ncontent" {
		t.Fatalf("expected content unchanged, got %q", res.Content)
	}
}

func TestMerge_SingleDivergingLine_WrapsOneConflict(t *testing.T) {
	res := Merge("a\nb\nc", "a\nX\nc", "local", "remote")
	want := "a\n<<<<<<< local\nb\n=======\nX\n>>>>>>> remote\nc"
	if res.Content != want {
		t.Fatalf("unexpected merged content:\n got: %q\nwant: %q", res.Content, want)
	}
	if !res.HasConflicts || res.ConflictCount != 1 {
		t.Fatalf("expected exactly 1 conflict, got %+v", res)
	}
}

func TestMerge_FullyDisjointContent_SingleConflictBlock(t *testing.T) {
	res := Merge("foo", "bar", "local", "remote")
	want := "<<<<<<< local\nfoo\n=======\nbar\n>>>>>>> remote"
	if res.Content != want {
		t.Fatalf("unexpected merged content:\n got: %q\nwant: %q", res.Content, want)
	}
	if res.ConflictCount != 1 {
		t.Fatalf("expected 1 conflict block, got %d", res.ConflictCount)
	}
}

func TestMerge_MultipleDivergingRuns_CountsEachBlock(t *testing.T) {
	res := Merge("a\nb\nc\nd\ne", "a\nX\nc\nY\ne", "local", "remote")
	if res.ConflictCount != 2 {
		t.Fatalf("expected 2 separate conflict blocks, got %d: %q", res.ConflictCount, res.Content)
	}
}

func TestMerge_EmptyStrings_NoConflict(t *testing.T) {
	res := Merge("", "", "local", "remote")
	if res.HasConflicts || res.Content != "" {
		t.Fatalf("expected no conflict for two empty strings, got %+v", res)
	}
}
