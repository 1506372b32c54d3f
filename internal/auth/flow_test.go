package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/nexusctl/internal/auth/google"
	"github.com/pysugar/nexusctl/internal/auth/pkce"
	"github.com/pysugar/nexusctl/internal/auth/state"
	"github.com/pysugar/nexusctl/internal/store"
)

type stubResolver struct {
	project string
	calls   atomic.Int32
}

func (r *stubResolver) Resolve(ctx context.Context, accessToken string) string {
	r.calls.Add(1)
	return r.project
}

// newTestFlow wires a Flow against a local token endpoint and a temp
// account store.
func newTestFlow(t *testing.T, handler http.HandlerFunc, resolver projectResolver) (*Flow, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := google.NewOAuthConfig("test-client", "test-secret", "http://localhost:51121/oauth-callback")
	conf.Endpoint = oauth2.Endpoint{
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	old := google.UserInfoURL
	google.UserInfoURL = srv.URL + "/userinfo"
	t.Cleanup(func() { google.UserInfoURL = old })

	st := store.New(filepath.Join(t.TempDir(), "accounts.json"))
	return &Flow{
		store:     st,
		tokens:    google.NewClient(conf),
		oauthConf: func(stateToken, challenge string) string { return "http://example.invalid/auth" },
		resolver:  resolver,
		launch:    func(url string) error { return nil },
	}, st
}

func tokenJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
}

func TestGetValidAccessToken_NoAccount(t *testing.T) {
	f, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected on a fresh machine")
	}, nil)

	_, err := f.GetValidAccessToken(context.Background())
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
	if f.IsAuthenticated() {
		t.Error("IsAuthenticated on empty store")
	}
}

func TestGetValidAccessToken_FreshTokenNoRefresh(t *testing.T) {
	var refreshes atomic.Int32
	f, st := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		tokenJSON(w)
	}, nil)

	_ = st.AddOrUpdate(store.Account{
		Email:        "a@x.com",
		AccessToken:  "at-fresh",
		RefreshToken: "rt",
		Expires:      time.Now().Add(time.Hour).UnixMilli(),
		ProjectID:    "proj-1",
	})

	cred, err := f.GetValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if cred.AccessToken != "at-fresh" || cred.Email != "a@x.com" || cred.ProjectID != "proj-1" {
		t.Errorf("credential = %+v", cred)
	}
	if refreshes.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", refreshes.Load())
	}
}

func TestGetValidAccessToken_ExpiredTriggersOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	f, st := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-refreshed","token_type":"Bearer","expires_in":3600}`)
	}, nil)

	_ = st.AddOrUpdate(store.Account{
		Email:        "a@x.com",
		AccessToken:  "at-stale",
		RefreshToken: "rt-1",
		Expires:      time.Now().Add(-time.Minute).UnixMilli(),
	})

	cred, err := f.GetValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if cred.AccessToken != "at-refreshed" {
		t.Errorf("access token = %q", cred.AccessToken)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", refreshes.Load())
	}

	// The on-disk store reflects the refreshed token.
	acc, _ := st.GetActive()
	if acc.AccessToken != "at-refreshed" {
		t.Errorf("stored access token = %q", acc.AccessToken)
	}
	if acc.RefreshToken != "rt-1" {
		t.Errorf("stored refresh token = %q, want retained rt-1", acc.RefreshToken)
	}
	if !acc.ExpiresAt().After(time.Now()) {
		t.Errorf("stored expiry %v not advanced", acc.ExpiresAt())
	}
}

func TestGetValidAccessToken_RefreshRejected(t *testing.T) {
	f, st := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}, nil)

	_ = st.AddOrUpdate(store.Account{
		Email:        "a@x.com",
		AccessToken:  "at-stale",
		RefreshToken: "rt-revoked",
		Expires:      time.Now().Add(-time.Minute).UnixMilli(),
	})

	_, err := f.GetValidAccessToken(context.Background())
	if !errors.Is(err, google.ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}

	// The stale account stays; the user re-authenticates explicitly.
	if !f.IsAuthenticated() {
		t.Error("account dropped on refresh failure")
	}
}

func TestCompleteLogin_PersistsAccount(t *testing.T) {
	codes, _ := pkce.Generate()

	var gotVerifier string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotVerifier = r.FormValue("code_verifier")
		tokenJSON(w)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"email":"dev@example.com"}`)
	})

	resolver := &stubResolver{project: "resolved-proj"}
	f, st := newTestFlow(t, mux.ServeHTTP, resolver)

	rawState, err := state.Encode(state.Payload{Verifier: codes.Verifier})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}

	acc, err := f.completeLogin(context.Background(), "code-1", rawState)
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}

	if gotVerifier != codes.Verifier {
		t.Errorf("verifier sent = %q, want the one carried in state", gotVerifier)
	}
	if acc.Email != "dev@example.com" || acc.ProjectID != "resolved-proj" {
		t.Errorf("account = %+v", acc)
	}
	if resolver.calls.Load() != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls.Load())
	}

	stored, _ := st.GetActive()
	if stored == nil || stored.Email != "dev@example.com" || stored.RefreshToken != "rt-1" {
		t.Errorf("stored account = %+v", stored)
	}
}

func TestCompleteLogin_PinnedProjectSkipsResolver(t *testing.T) {
	codes, _ := pkce.Generate()
	resolver := &stubResolver{project: "should-not-be-used"}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) { tokenJSON(w) })
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"email":"dev@example.com"}`)
	})

	f, _ := newTestFlow(t, mux.ServeHTTP, resolver)

	rawState, _ := state.Encode(state.Payload{Verifier: codes.Verifier, ProjectID: "pinned-proj"})
	acc, err := f.completeLogin(context.Background(), "code-1", rawState)
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if acc.ProjectID != "pinned-proj" {
		t.Errorf("project = %q, want pinned-proj", acc.ProjectID)
	}
	if resolver.calls.Load() != 0 {
		t.Errorf("resolver called %d times despite pinned project", resolver.calls.Load())
	}
}

func TestCompleteLogin_MalformedState(t *testing.T) {
	f, st := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no exchange expected for malformed state")
	}, nil)

	_, err := f.completeLogin(context.Background(), "code-1", "!!garbage!!")
	if !errors.Is(err, state.ErrMalformedState) {
		t.Fatalf("err = %v, want ErrMalformedState", err)
	}

	// Nothing may be written on a tampered redirect.
	if acc, _ := st.GetActive(); acc != nil {
		t.Errorf("account persisted from malformed state: %+v", acc)
	}
}

func TestRemoveAccountAndLogoutAll(t *testing.T) {
	f, st := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	_ = st.AddOrUpdate(store.Account{Email: "a@x.com", RefreshToken: "rt", Expires: 1})
	_ = st.AddOrUpdate(store.Account{Email: "b@x.com", RefreshToken: "rt", Expires: 1})

	ok, err := f.RemoveAccount("a@x.com")
	if err != nil || !ok {
		t.Fatalf("remove = %v, %v", ok, err)
	}
	accounts, active, err := f.ListAccounts()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 1 || active != "b@x.com" {
		t.Errorf("accounts = %d active = %q", len(accounts), active)
	}

	if err := f.LogoutAll(); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if f.IsAuthenticated() {
		t.Error("still authenticated after LogoutAll")
	}
}
