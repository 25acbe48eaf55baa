package fediverse

import (
	"context"
	"fmt"
	"strings"
)

// Announcer posts submission notices to a Misskey account owned by the
// contest operator. A zero Announcer (empty base URL) announces nothing.
type Announcer struct {
	c       *Client
	baseURL string
	apiKey  string
}

func NewAnnouncer(c *Client, baseURL, apiKey string) *Announcer {
	return &Announcer{c: c, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (a *Announcer) Enabled() bool {
	return a != nil && a.baseURL != ""
}

type misskeyNoteReq struct {
	I          string `json:"i"`
	Visibility string `json:"visibility"`
	Text       string `json:"text"`
}

// Announce creates a home-visibility note with the given text. Callers
// treat failures as non-fatal; a submission must not fail because the
// announcement account is unreachable.
func (a *Announcer) Announce(ctx context.Context, text string) error {
	if !a.Enabled() {
		return nil
	}
	err := a.c.postJSON(ctx, a.baseURL+"/api/notes/create", misskeyNoteReq{
		I:          a.apiKey,
		Visibility: "home",
		Text:       text,
	}, &struct{}{})
	if err != nil {
		return fmt.Errorf("announce note: %w", err)
	}
	return nil
}
