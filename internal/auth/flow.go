// Package auth orchestrates the browser-based OAuth2 login flow and
// hands out valid access tokens to API callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pysugar/nexusctl/internal/auth/callback"
	"github.com/pysugar/nexusctl/internal/auth/google"
	"github.com/pysugar/nexusctl/internal/auth/pkce"
	"github.com/pysugar/nexusctl/internal/auth/state"
	"github.com/pysugar/nexusctl/internal/browser"
	"github.com/pysugar/nexusctl/internal/config"
	"github.com/pysugar/nexusctl/internal/history"
	"github.com/pysugar/nexusctl/internal/store"
)

// ErrNoAccount is returned when a token is requested but nothing is
// stored.
var ErrNoAccount = errors.New("no account configured")

// expiryCheckMargin: tokens this close to expiry are refreshed before
// use, so the provider never sees a stale one.
const expiryCheckMargin = 5 * time.Minute

// Credential is what API clients need to call the provider.
type Credential struct {
	AccessToken string
	Email       string
	ProjectID   string
}

// projectResolver is satisfied by project.Resolver.
type projectResolver interface {
	Resolve(ctx context.Context, accessToken string) string
}

// Flow owns one CLI invocation's auth state.
type Flow struct {
	store     *store.Store
	tokens    *google.Client
	oauthConf authURLBuilder
	resolver  projectResolver
	launch    browser.Launcher
	events    *history.Log
	projectID string
}

type authURLBuilder func(stateToken, challenge string) string

// New wires a Flow from config, account store, and event log.
func New(cfg *config.Config, st *store.Store, events *history.Log, resolver projectResolver) *Flow {
	redirectURL := fmt.Sprintf("http://localhost:%d%s", callback.Port, callback.Path)
	conf := google.NewOAuthConfig(cfg.ClientID, cfg.ClientSecret, redirectURL)
	return &Flow{
		store:  st,
		tokens: google.NewClient(conf),
		oauthConf: func(stateToken, challenge string) string {
			return google.BuildAuthURL(conf, stateToken, challenge)
		},
		resolver:  resolver,
		launch:    browser.Open,
		events:    events,
		projectID: cfg.ProjectID,
	}
}

// StartAuthFlow runs the complete browser login: PKCE, consent URL,
// callback listener, code exchange, project resolution, persistence.
// It blocks until the flow resolves or times out.
func (f *Flow) StartAuthFlow(ctx context.Context) (*store.Account, error) {
	codes, err := pkce.Generate()
	if err != nil {
		return nil, err
	}
	stateToken, err := state.Encode(state.Payload{
		Verifier:  codes.Verifier,
		ProjectID: f.projectID,
	})
	if err != nil {
		return nil, err
	}

	var account *store.Account
	srv, err := callback.Listen(func(ctx context.Context, code, rawState string) error {
		acc, err := f.completeLogin(ctx, code, rawState)
		if err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	authURL := f.oauthConf(stateToken, codes.Challenge)
	log.Infof("waiting for browser consent on port %d", callback.Port)
	if err := f.launch(authURL); err != nil {
		log.Warnf("could not open browser: %v", err)
		fmt.Printf("Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
	}

	err = srv.Wait(ctx)
	email := ""
	if account != nil {
		email = account.Email
	}
	f.events.Record(history.KindLogin, email, "", err)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// completeLogin finishes a flow once the redirect delivers a code:
// validate the state token, exchange the code, resolve the project,
// persist the account.
func (f *Flow) completeLogin(ctx context.Context, code, rawState string) (*store.Account, error) {
	payload, err := state.Decode(rawState)
	if err != nil {
		return nil, err
	}

	tok, err := f.tokens.Exchange(ctx, code, payload.Verifier)
	if err != nil {
		return nil, err
	}

	projectID := payload.ProjectID
	if projectID == "" && f.resolver != nil {
		projectID = f.resolver.Resolve(ctx, tok.AccessToken)
	}

	acc := store.Account{
		Email:        tok.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expires:      tok.ExpiresAt.UnixMilli(),
		ProjectID:    projectID,
	}
	if err := f.store.AddOrUpdate(acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetValidAccessToken returns the active account's credential,
// refreshing it first when it is expired or close to expiry. A refresh
// rejection surfaces as re-authentication required; it is never
// retried here.
func (f *Flow) GetValidAccessToken(ctx context.Context) (*Credential, error) {
	acc, err := f.store.GetActive()
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrNoAccount
	}

	if !store.IsExpired(*acc, expiryCheckMargin) {
		return &Credential{
			AccessToken: acc.AccessToken,
			Email:       acc.Email,
			ProjectID:   acc.ProjectID,
		}, nil
	}

	log.Debugf("token for %s expired, refreshing", acc.Email)
	tok, err := f.tokens.Refresh(ctx, acc.RefreshToken)
	f.events.Record(history.KindRefresh, acc.Email, "", err)
	if err != nil {
		return nil, fmt.Errorf("%w; run `nexusctl login` to re-authenticate", err)
	}

	if _, err := f.store.UpdateTokens(acc.Email, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return nil, err
	}
	return &Credential{
		AccessToken: tok.AccessToken,
		Email:       acc.Email,
		ProjectID:   acc.ProjectID,
	}, nil
}

// ListAccounts returns all stored accounts and the active email.
func (f *Flow) ListAccounts() ([]store.Account, string, error) {
	accounts, err := f.store.ListAll()
	if err != nil {
		return nil, "", err
	}
	active, err := f.store.ActiveEmail()
	if err != nil {
		return nil, "", err
	}
	return accounts, active, nil
}

// RemoveAccount deletes one account from the store.
func (f *Flow) RemoveAccount(email string) (bool, error) {
	ok, err := f.store.Remove(email)
	if ok {
		f.events.Record(history.KindLogout, email, "", err)
	}
	return ok, err
}

// LogoutAll deletes the whole account store file.
func (f *Flow) LogoutAll() error {
	err := f.store.ClearAll()
	f.events.Record(history.KindLogout, "", "all accounts", err)
	return err
}

// IsAuthenticated reports whether any account is stored.
func (f *Flow) IsAuthenticated() bool {
	acc, err := f.store.GetActive()
	return err == nil && acc != nil
}
