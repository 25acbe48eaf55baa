package app

import (
	"testing"

	"github.com/pbzweihander/contcont/internal/session"
	"github.com/pbzweihander/contcont/internal/store"
)

func numberedEntries(n int) []store.LiteratureMetadata {
	items := make([]store.LiteratureMetadata, n)
	for i := range items {
		items[i] = store.LiteratureMetadata{ID: int64(i + 1)}
	}
	return items
}

func ids(items []store.LiteratureMetadata) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestShuffleForViewerIsDeterministic(t *testing.T) {
	viewer := session.Identity{Handle: "alice", Instance: "social.example.com"}

	first := numberedEntries(50)
	second := numberedEntries(50)
	shuffleForViewer(first, viewer)
	shuffleForViewer(second, viewer)

	if !equalIDs(ids(first), ids(second)) {
		t.Fatal("the same viewer must always see the same order")
	}
}

func TestShuffleForViewerDiffersBetweenViewers(t *testing.T) {
	alice := numberedEntries(50)
	bob := numberedEntries(50)
	shuffleForViewer(alice, session.Identity{Handle: "alice", Instance: "social.example.com"})
	shuffleForViewer(bob, session.Identity{Handle: "bob", Instance: "social.example.com"})

	// 50 entries make an accidental identical permutation vanishingly
	// unlikely.
	if equalIDs(ids(alice), ids(bob)) {
		t.Fatal("different viewers should see different orders")
	}
}

func TestShuffleForViewerKeepsAllEntries(t *testing.T) {
	items := numberedEntries(20)
	shuffleForViewer(items, session.Identity{Handle: "carol", Instance: "mk.example.net"})

	seen := map[int64]bool{}
	for _, item := range items {
		seen[item.ID] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct entries after shuffle, got %d", len(seen))
	}
}
