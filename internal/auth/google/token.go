package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var (
	// ErrTokenExchange indicates the provider rejected the
	// authorization code.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrRefreshFailed indicates the provider rejected the refresh
	// token. Callers must surface this as "re-authentication required"
	// rather than retrying.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// issueMargin is subtracted from a token's reported lifetime at
// issuance so the stored expiry is conservative.
const issueMargin = 60 * time.Second

// UserInfoURL is a package var so tests can point it at a local server.
var UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Token is the credential pair produced by an exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Email        string
}

// Client trades authorization codes and refresh tokens for access
// tokens.
type Client struct {
	conf *oauth2.Config
}

// NewClient wraps an oauth2 config for token operations.
func NewClient(conf *oauth2.Config) *Client {
	return &Client{conf: conf}
}

// Exchange trades an authorization code for a token pair, proving
// possession of the PKCE verifier. The account email is recovered from
// the userinfo endpoint on a best-effort basis; its failure does not
// fail the exchange.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*Token, error) {
	tok, err := c.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, providerError(ErrTokenExchange, err)
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Add(-issueMargin),
	}

	if email, err := c.fetchEmail(ctx, tok); err != nil {
		log.Debugf("userinfo lookup failed: %v", err)
	} else {
		out.Email = email
	}
	return out, nil
}

// Refresh trades a refresh token for a new access token. Providers may
// rotate the refresh token; when the response omits one, the previous
// refresh token is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, providerError(ErrRefreshFailed, err)
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Add(-issueMargin),
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// fetchEmail asks the userinfo endpoint who the token belongs to.
func (c *Client) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.Email, nil
}

// providerError wraps an oauth2 failure under a sentinel, preserving
// the provider's own message when one was returned.
func providerError(sentinel, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		msg := strings.TrimSpace(string(rErr.Body))
		if msg == "" {
			msg = rErr.Response.Status
		}
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
