package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestCastVoteCapUnderConcurrency drives many simultaneous votes by one voter
// against distinct entries and verifies that no more than maxVotes commit.
// The count re-check alone would let two transactions both read the same
// below-cap count under READ COMMITTED; the per-voter advisory lock is what
// makes this test pass.
func TestCastVoteCapUnderConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `TRUNCATE literature_vote, literature CASCADE`); err != nil {
		t.Fatalf("reset tables: %v", err)
	}

	st := NewPostgresStore(db)

	const entries = 16
	const maxVotes = 5

	ids := make([]int64, 0, entries)
	for i := 0; i < entries; i++ {
		item, err := st.InsertLiterature(ctx, Literature{
			Title:          fmt.Sprintf("entry %d", i),
			Text:           "body",
			AuthorHandle:   fmt.Sprintf("author%d", i),
			AuthorInstance: "social.example.com",
		})
		if err != nil {
			t.Fatalf("insert entry %d: %v", i, err)
		}
		ids = append(ids, item.ID)
	}

	errs := make([]error, entries)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			errs[i] = st.CastLiteratureVote(ctx, "voter", "social.example.com", id, maxVotes)
		}(i, id)
	}
	wg.Wait()

	var accepted, capped int
	for i, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrVoteLimit):
			capped++
		default:
			t.Fatalf("vote on entry %d: %v", ids[i], err)
		}
	}
	if accepted != maxVotes {
		t.Fatalf("expected exactly %d accepted votes, got %d (%d capped)", maxVotes, accepted, capped)
	}

	var stored int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM literature_vote WHERE handle='voter' AND instance='social.example.com'`).Scan(&stored); err != nil {
		t.Fatalf("count stored votes: %v", err)
	}
	if stored != maxVotes {
		t.Fatalf("expected %d stored votes, found %d", maxVotes, stored)
	}
}
