package fediverse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbzweihander/contcont/internal/store"
)

func newTestClient() *Client {
	c := NewClient("summerfest", "http://contest.example.com/api/auth/callback")
	c.Scheme = "http"
	return c
}

func hostnameOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// fakeInstance wires a minimal remote server speaking both the nodeinfo
// discovery document and the handshake endpoints the client calls.
func fakeInstance(t *testing.T, softwareName string, extra func(mux *http.ServeMux, srv func() *httptest.Server)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/nodeinfo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"links": []map[string]string{
				{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.1", "href": srv.URL + "/nodeinfo/2.1"},
				{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.0", "href": srv.URL + "/nodeinfo/2.0"},
			},
		})
	})
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"software": map[string]string{"name": softwareName},
		})
	})
	if extra != nil {
		extra(mux, func() *httptest.Server { return srv })
	}
	return srv
}

func TestDetectFamily(t *testing.T) {
	cases := []struct {
		software string
		want     Family
	}{
		{"misskey", FamilyMisskey},
		{"cherrypick", FamilyMisskey},
		{"castella", FamilyMisskey},
		{"mastodon", FamilyMastodon},
		{"akkoma", FamilyMastodon},
	}
	for _, tc := range cases {
		t.Run(tc.software, func(t *testing.T) {
			srv := fakeInstance(t, tc.software, nil)
			family, err := newTestClient().DetectFamily(context.Background(), hostnameOf(srv))
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if family != tc.want {
				t.Fatalf("detected %s, want %s", family, tc.want)
			}
		})
	}
}

func TestDetectFamilyFailsSoft(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	if _, err := newTestClient().DetectFamily(context.Background(), hostnameOf(broken)); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("expected ErrNotDetected for a broken server, got %v", err)
	}

	noLink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"links": []any{}})
	}))
	t.Cleanup(noLink.Close)
	if _, err := newTestClient().DetectFamily(context.Background(), hostnameOf(noLink)); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("expected ErrNotDetected without a schema link, got %v", err)
	}

	if _, err := newTestClient().DetectFamily(context.Background(), "unresolvable.invalid"); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("expected ErrNotDetected for an unreachable host, got %v", err)
	}
}

func TestRegisterMisskeyApp(t *testing.T) {
	var gotReq misskeyAppCreateReq
	srv := fakeInstance(t, "misskey", func(mux *http.ServeMux, _ func() *httptest.Server) {
		mux.HandleFunc("/api/app/create", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&gotReq)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "app-id", "secret": "app-secret"})
		})
	})

	inst, err := newTestClient().RegisterApp(context.Background(), hostnameOf(srv), FamilyMisskey)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if inst.ClientID != "app-id" || inst.ClientSecret != "app-secret" {
		t.Fatalf("unexpected instance %+v", inst)
	}
	if gotReq.Name != "contcont/summerfest" {
		t.Fatalf("app name should carry the contest name, got %q", gotReq.Name)
	}
	if gotReq.CallbackURL != "http://contest.example.com/api/auth/callback" {
		t.Fatalf("unexpected callback url %q", gotReq.CallbackURL)
	}
	if gotReq.Permission == nil {
		t.Fatal("permission must be an empty list, not null")
	}
}

func TestRegisterMastodonApp(t *testing.T) {
	var gotReq mastodonAppReq
	srv := fakeInstance(t, "mastodon", func(mux *http.ServeMux, _ func() *httptest.Server) {
		mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&gotReq)
			_ = json.NewEncoder(w).Encode(map[string]string{"client_id": "cid", "client_secret": "csec"})
		})
	})

	inst, err := newTestClient().RegisterApp(context.Background(), hostnameOf(srv), FamilyMastodon)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if inst.ClientID != "cid" || inst.ClientSecret != "csec" {
		t.Fatalf("unexpected instance %+v", inst)
	}
	if gotReq.RedirectURIs != "http://contest.example.com/api/auth/callback" {
		t.Fatalf("unexpected redirect uris %q", gotReq.RedirectURIs)
	}
}

func TestMisskeyHandshake(t *testing.T) {
	srv := fakeInstance(t, "misskey", func(mux *http.ServeMux, srvFn func() *httptest.Server) {
		mux.HandleFunc("/api/auth/session/generate", func(w http.ResponseWriter, r *http.Request) {
			var req misskeySessionGenerateReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.AppSecret != "app-secret" {
				http.Error(w, "wrong secret", http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"url": srvFn().URL + "/auth/abc123"})
		})
		mux.HandleFunc("/api/auth/session/userkey", func(w http.ResponseWriter, r *http.Request) {
			var req misskeyUserkeyReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.AppSecret != "app-secret" || req.Token != "one-time" {
				http.Error(w, "bad exchange", http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"username": "alice"}})
		})
	})

	client := newTestClient()
	inst := store.Instance{Hostname: hostnameOf(srv), ClientID: "app-id", ClientSecret: "app-secret"}
	driver := client.Driver(FamilyMisskey)

	redirectURL, loginState, err := driver.BeginAuth(context.Background(), inst)
	if err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	if !strings.Contains(redirectURL, "/auth/abc123") {
		t.Fatalf("unexpected redirect url %q", redirectURL)
	}
	if loginState != "misskey_app-id" {
		t.Fatalf("unexpected login state %q", loginState)
	}

	handle, err := driver.CompleteAuth(context.Background(), inst, Callback{Token: "one-time"}, loginState)
	if err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	if handle != "alice" {
		t.Fatalf("unexpected handle %q", handle)
	}

	if _, err := driver.CompleteAuth(context.Background(), inst, Callback{}, loginState); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing without a token, got %v", err)
	}
}

func TestMastodonHandshake(t *testing.T) {
	srv := fakeInstance(t, "mastodon", func(mux *http.ServeMux, _ func() *httptest.Server) {
		mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			if r.Form.Get("code") != "auth-code" {
				http.Error(w, "bad code", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-token",
				"token_type":   "Bearer",
			})
		})
		mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-token" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"username": "bob"})
		})
	})

	client := newTestClient()
	inst := store.Instance{Hostname: hostnameOf(srv), ClientID: "cid", ClientSecret: "csec"}
	driver := client.Driver(FamilyMastodon)

	authURL, loginState, err := driver.BeginAuth(context.Background(), inst)
	if err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	if !strings.Contains(authURL, "/oauth/authorize") || !strings.Contains(authURL, "client_id=cid") {
		t.Fatalf("unexpected auth url %q", authURL)
	}
	if !strings.HasSuffix(loginState, "_cid") {
		t.Fatalf("login state must embed the client id, got %q", loginState)
	}
	if !strings.Contains(authURL, "state="+loginState[:strings.Index(loginState, "_")]) {
		t.Fatalf("auth url must carry the login state, got %q", authURL)
	}

	handle, err := driver.CompleteAuth(context.Background(), inst, Callback{Code: "auth-code", State: loginState}, loginState)
	if err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	if handle != "bob" {
		t.Fatalf("unexpected handle %q", handle)
	}
}

func TestMastodonStateMismatch(t *testing.T) {
	client := newTestClient()
	driver := client.Driver(FamilyMastodon)
	inst := store.Instance{Hostname: "masto.example.net", ClientID: "cid", ClientSecret: "csec"}

	loginState := "abcdef_cid"
	cases := []Callback{
		{Code: "auth-code", State: ""},
		{Code: "auth-code", State: "abcdef_other"},
		{Code: "auth-code", State: strings.ToUpper(loginState)},
	}
	for _, cb := range cases {
		if _, err := driver.CompleteAuth(context.Background(), inst, cb, loginState); !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("state %q must be rejected, got %v", cb.State, err)
		}
	}
}

func TestSplitLoginState(t *testing.T) {
	cases := []struct {
		in       string
		family   Family
		clientID string
		ok       bool
	}{
		{"misskey_app-id", FamilyMisskey, "app-id", true},
		{"abcdef123_cid", FamilyMastodon, "cid", true},
		{"misskey_", "", "", false},
		{"no-underscore", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		family, clientID, ok := SplitLoginState(tc.in)
		if ok != tc.ok {
			t.Errorf("SplitLoginState(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && (family != tc.family || clientID != tc.clientID) {
			t.Errorf("SplitLoginState(%q) = %s, %q", tc.in, family, clientID)
		}
	}
}

func TestParseAccount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice@mk.example.net", "mk.example.net"},
		{"@alice@mk.example.net", "mk.example.net"},
		{"mk.example.net", "mk.example.net"},
		{"  alice@mk.example.net  ", "mk.example.net"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseAccount(tc.in); got != tc.want {
			t.Errorf("ParseAccount(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRandomState(t *testing.T) {
	state := randomState(64)
	if len(state) != 64 {
		t.Fatalf("expected 64 characters, got %d", len(state))
	}
	for _, r := range state {
		if !strings.ContainsRune(stateAlphabet, r) {
			t.Fatalf("unexpected character %q in state", r)
		}
	}
	if state == randomState(64) {
		t.Fatal("two states should not collide")
	}
}

func TestAnnouncer(t *testing.T) {
	var gotReq misskeyNoteReq
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notes/create" {
			http.NotFound(w, r)
			return
		}
		calls++
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, "{}")
	}))
	t.Cleanup(srv.Close)

	client := newTestClient()
	ann := NewAnnouncer(client, srv.URL, "api-key")
	if err := ann.Announce(context.Background(), "a new entry"); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one note, got %d", calls)
	}
	if gotReq.I != "api-key" || gotReq.Visibility != "home" || gotReq.Text != "a new entry" {
		t.Fatalf("unexpected note request %+v", gotReq)
	}

	disabled := NewAnnouncer(client, "", "")
	if disabled.Enabled() {
		t.Fatal("announcer without a base url must be disabled")
	}
	if err := disabled.Announce(context.Background(), "ignored"); err != nil {
		t.Fatalf("disabled announcer must be a no-op: %v", err)
	}
}
