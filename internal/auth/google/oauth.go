// Package google implements the provider side of the auth flow: the
// consent URL, the authorization-code exchange, and token refresh
// against Google's OAuth2 endpoints.
package google

import (
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Built-in OAuth client used when no credentials are configured.
const (
	DefaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultClientSecret = "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"
)

// Scopes required for the Cloud Code Gemini API plus basic identity.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// NewOAuthConfig builds the oauth2 config for the flow. Empty clientID
// or clientSecret fall back to the built-in defaults.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if clientSecret == "" {
		clientSecret = DefaultClientSecret
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleoauth.Endpoint,
	}
}

// BuildAuthURL assembles the consent-page URL carrying the PKCE
// challenge and the encoded state token.
func BuildAuthURL(conf *oauth2.Config, stateToken, challenge string) string {
	return conf.AuthCodeURL(stateToken,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}
