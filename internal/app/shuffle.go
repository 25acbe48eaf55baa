package app

import (
	"hash/fnv"
	"math/rand"

	"github.com/pbzweihander/contcont/internal/session"
)

// shuffleForViewer permutes items with a permutation that is a pure function
// of the viewer's identity. The same viewer always sees the same order, and
// no order leaks submission recency.
func shuffleForViewer[T any](items []T, viewer session.Identity) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(viewer.String()))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
