package config

import (
	"strings"
	"testing"
	"time"
)

func setContestWindow(t *testing.T) {
	t.Helper()
	t.Setenv("SUBMISSION_OPEN_AT", "2024-08-01T00:00:00Z")
	t.Setenv("SUBMISSION_CLOSE_AT", "2024-08-15T00:00:00Z")
	t.Setenv("VOTING_OPEN_AT", "2024-08-15T00:00:00Z")
	t.Setenv("VOTING_CLOSE_AT", "2024-08-31T00:00:00Z")
}

func TestLoadDefaults(t *testing.T) {
	setContestWindow(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":3000" {
		t.Fatalf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.MaxVotesPerVoter != 5 {
		t.Fatalf("unexpected default vote limit %d", cfg.MaxVotesPerVoter)
	}
	if !cfg.LiteratureEnabled || !cfg.ArtEnabled {
		t.Fatal("both categories default to enabled")
	}
	want := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	if !cfg.SubmissionOpenAt.Equal(want) {
		t.Fatalf("unexpected submission open %v", cfg.SubmissionOpenAt)
	}
}

func TestLoadRequiresWindowTimestamps(t *testing.T) {
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "SUBMISSION_OPEN_AT") {
		t.Fatalf("expected missing timestamp error, got %v", err)
	}
}

func TestLoadRejectsMalformedTimestamp(t *testing.T) {
	setContestWindow(t)
	t.Setenv("VOTING_CLOSE_AT", "next tuesday")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for a malformed timestamp")
	}
}

func TestLoadRejectsMalformedVoteLimit(t *testing.T) {
	setContestWindow(t)
	t.Setenv("MAX_VOTES_PER_VOTER", "five")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for a malformed vote limit")
	}
}

func TestLoadRejectsMalformedCategoryFlag(t *testing.T) {
	setContestWindow(t)
	t.Setenv("ART_ENABLED", "yep")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for a malformed category flag")
	}
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	setContestWindow(t)
	t.Setenv("SUBMISSION_CLOSE_AT", "2024-07-01T00:00:00Z")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for a window that closes before it opens")
	}
}

func TestLoadRejectsNonPositiveVoteLimit(t *testing.T) {
	setContestWindow(t)
	t.Setenv("MAX_VOTES_PER_VOTER", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for a zero vote limit")
	}
}

func TestLoadOverrides(t *testing.T) {
	setContestWindow(t)
	t.Setenv("CONTEST_NAME", "winterfest")
	t.Setenv("LITERATURE_ENABLED", "false")
	t.Setenv("MAX_VOTES_PER_VOTER", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ContestName != "winterfest" || cfg.LiteratureEnabled || cfg.MaxVotesPerVoter != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}
