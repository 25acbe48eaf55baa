package app

import "time"

// Window is a closed interval: both endpoints count as open.
type Window struct {
	OpenAt  time.Time `json:"openAt"`
	CloseAt time.Time `json:"closeAt"`
}

func (w Window) Contains(now time.Time) bool {
	return !now.Before(w.OpenAt) && !now.After(w.CloseAt)
}

// ContestWindows are the configured submission and voting periods. Results
// become visible strictly after voting closes, never at the boundary.
type ContestWindows struct {
	Submission Window `json:"submission"`
	Voting     Window `json:"voting"`
}

func (c ContestWindows) ResultsOpen(now time.Time) bool {
	return now.After(c.Voting.CloseAt)
}
