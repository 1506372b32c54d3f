package google

import (
	"net/url"
	"strings"
	"testing"
)

func TestNewOAuthConfig_Defaults(t *testing.T) {
	conf := NewOAuthConfig("", "", "http://localhost:51121/oauth-callback")
	if conf.ClientID != DefaultClientID {
		t.Errorf("ClientID = %q, want built-in default", conf.ClientID)
	}
	if conf.ClientSecret != DefaultClientSecret {
		t.Errorf("ClientSecret = %q, want built-in default", conf.ClientSecret)
	}

	conf = NewOAuthConfig("my-id", "my-secret", "")
	if conf.ClientID != "my-id" || conf.ClientSecret != "my-secret" {
		t.Errorf("explicit credentials not honored: %q / %q", conf.ClientID, conf.ClientSecret)
	}
}

func TestBuildAuthURL_Params(t *testing.T) {
	conf := NewOAuthConfig("client-1", "secret-1", "http://localhost:51121/oauth-callback")
	raw := BuildAuthURL(conf, "state-token", "challenge-abc")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"redirect_uri":          "http://localhost:51121/oauth-callback",
		"scope":                 strings.Join(Scopes, " "),
		"code_challenge":        "challenge-abc",
		"code_challenge_method": "S256",
		"state":                 "state-token",
		"access_type":           "offline",
		"prompt":                "consent",
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}
