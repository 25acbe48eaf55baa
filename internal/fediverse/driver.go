package fediverse

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/pbzweihander/contcont/internal/store"
)

// Callback carries the query parameters a remote server appended when it
// redirected the user back. Which fields are set depends on the family.
type Callback struct {
	Token string // Misskey one-time session token
	Code  string // Mastodon authorization code
	State string // Mastodon returned state
}

// Driver is the per-family handshake: build the URL the user is sent to, and
// later exchange the callback for a verified username. The login-state token
// returned by BeginAuth must round-trip through the client untouched;
// SplitLoginState recovers the family and app registration from it.
type Driver interface {
	BeginAuth(ctx context.Context, inst store.Instance) (redirectURL, loginState string, err error)
	CompleteAuth(ctx context.Context, inst store.Instance, cb Callback, loginState string) (handle string, err error)
}

func (c *Client) Driver(family Family) Driver {
	if family == FamilyMisskey {
		return &misskeyDriver{c: c}
	}
	return &mastodonDriver{c: c}
}

// RegisterApp registers this application with the remote host and returns the
// credentials to cache. The call is not idempotent on the remote side;
// duplicate registrations from a race are an accepted cost.
func (c *Client) RegisterApp(ctx context.Context, hostname string, family Family) (store.Instance, error) {
	if family == FamilyMisskey {
		return c.registerMisskeyApp(ctx, hostname)
	}
	return c.registerMastodonApp(ctx, hostname)
}

const misskeyStatePrefix = "misskey_"

// SplitLoginState recovers the protocol family and client id embedded in a
// login-state token. The Misskey prefix is checked first so a crafted
// Mastodon state cannot masquerade as the other family.
func SplitLoginState(loginState string) (Family, string, bool) {
	if clientID, ok := strings.CutPrefix(loginState, misskeyStatePrefix); ok {
		return FamilyMisskey, clientID, clientID != ""
	}
	if _, clientID, ok := strings.Cut(loginState, "_"); ok {
		return FamilyMastodon, clientID, clientID != ""
	}
	return "", "", false
}

// ParseAccount reduces a "handle@hostname" or bare hostname input to the
// hostname of the user's home instance.
func ParseAccount(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

const stateAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomState(length int) string {
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = stateAlphabet[int(b)%len(stateAlphabet)]
	}
	return string(buf)
}
