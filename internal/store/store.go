// Package store persists authenticated accounts as a single JSON file
// under the per-OS user configuration directory.
//
// Every write is a whole-file read-modify-write. There is no
// inter-process locking: the CLI is a short-lived single-invocation
// process driven by one person, so last-writer-wins is accepted.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version identifies the on-disk schema.
const Version = 1

// FileName is the store file inside the config directory.
const FileName = "accounts.json"

// Account is one authenticated provider account. All timestamps are
// epoch milliseconds. RefreshToken is never empty once persisted; it is
// the durable credential, while AccessToken may go stale.
type Account struct {
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
	ProjectID    string `json:"project_id,omitempty"`
	AddedAt      int64  `json:"added_at"`
	LastUsed     int64  `json:"last_used"`
}

// ExpiresAt converts the stored epoch-millis expiry to a time.Time.
func (a Account) ExpiresAt() time.Time {
	return time.UnixMilli(a.Expires)
}

// File is the full on-disk document. Invariant: when Accounts is
// non-empty, 0 <= ActiveIndex < len(Accounts).
type File struct {
	Version     int       `json:"version"`
	Accounts    []Account `json:"accounts"`
	ActiveIndex int       `json:"active_index"`
}

// Store reads and writes one account file.
type Store struct {
	path string
}

// New returns a store over the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath locates the account file under the per-OS config root
// (XDG config dir on Unix, roaming AppData on Windows).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "nexusctl", FileName), nil
}

// Path returns the file backing this store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the store file. A missing file is not an error; it
// returns (nil, nil) so callers can distinguish "no accounts yet".
func (s *Store) Load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account store: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse account store: %w", err)
	}
	if len(f.Accounts) > 0 && (f.ActiveIndex < 0 || f.ActiveIndex >= len(f.Accounts)) {
		f.ActiveIndex = 0
	}
	return &f, nil
}

// Save rewrites the whole store file with restrictive permissions.
func (s *Store) Save(f *File) error {
	f.Version = Version
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write account store: %w", err)
	}
	return nil
}

// AddOrUpdate upserts an account by email and makes it active. An
// existing entry is updated in place; a new one is appended.
func (s *Store) AddOrUpdate(acc Account) error {
	if acc.RefreshToken == "" {
		return errors.New("refusing to persist account without refresh token")
	}

	f, err := s.Load()
	if err != nil {
		return err
	}
	if f == nil {
		f = &File{}
	}

	now := time.Now().UnixMilli()
	if acc.LastUsed == 0 {
		acc.LastUsed = now
	}

	for i := range f.Accounts {
		if f.Accounts[i].Email == acc.Email {
			acc.AddedAt = f.Accounts[i].AddedAt
			f.Accounts[i] = acc
			f.ActiveIndex = i
			return s.Save(f)
		}
	}

	if acc.AddedAt == 0 {
		acc.AddedAt = now
	}
	f.Accounts = append(f.Accounts, acc)
	f.ActiveIndex = len(f.Accounts) - 1
	return s.Save(f)
}

// GetActive returns the active account, or (nil, nil) when the store
// is empty or missing.
func (s *Store) GetActive() (*Account, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	if f == nil || len(f.Accounts) == 0 {
		return nil, nil
	}
	acc := f.Accounts[f.ActiveIndex]
	return &acc, nil
}

// ListAll returns every stored account in order.
func (s *Store) ListAll() ([]Account, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	return f.Accounts, nil
}

// ActiveEmail reports which account is active, empty when none.
func (s *Store) ActiveEmail() (string, error) {
	acc, err := s.GetActive()
	if err != nil || acc == nil {
		return "", err
	}
	return acc.Email, nil
}

// SetActive marks the account with the given email active. Returns
// false when no such account exists.
func (s *Store) SetActive(email string) (bool, error) {
	f, err := s.Load()
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}
	for i := range f.Accounts {
		if f.Accounts[i].Email == email {
			f.ActiveIndex = i
			return true, s.Save(f)
		}
	}
	return false, nil
}

// Remove deletes the account with the given email. The active index is
// clamped so it stays valid; removing the last account leaves an empty
// store file.
func (s *Store) Remove(email string) (bool, error) {
	f, err := s.Load()
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}

	for i := range f.Accounts {
		if f.Accounts[i].Email != email {
			continue
		}
		f.Accounts = append(f.Accounts[:i], f.Accounts[i+1:]...)
		if f.ActiveIndex >= len(f.Accounts) {
			f.ActiveIndex = len(f.Accounts) - 1
		} else if f.ActiveIndex > i {
			f.ActiveIndex--
		}
		if f.ActiveIndex < 0 {
			f.ActiveIndex = 0
		}
		return true, s.Save(f)
	}
	return false, nil
}

// ClearAll deletes the store file entirely (logout-all).
func (s *Store) ClearAll() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove account store: %w", err)
	}
	return nil
}

// UpdateAccessToken replaces the access token and expiry of the named
// account after a refresh, bumping last_used. Returns false when the
// account is not stored.
func (s *Store) UpdateAccessToken(email, accessToken string, expiresAt time.Time) (bool, error) {
	return s.updateTokens(email, accessToken, "", expiresAt)
}

// UpdateTokens is UpdateAccessToken plus refresh-token rotation; an
// empty refreshToken keeps the stored one.
func (s *Store) UpdateTokens(email, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	return s.updateTokens(email, accessToken, refreshToken, expiresAt)
}

func (s *Store) updateTokens(email, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	f, err := s.Load()
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}
	for i := range f.Accounts {
		if f.Accounts[i].Email != email {
			continue
		}
		f.Accounts[i].AccessToken = accessToken
		f.Accounts[i].Expires = expiresAt.UnixMilli()
		f.Accounts[i].LastUsed = time.Now().UnixMilli()
		if refreshToken != "" {
			f.Accounts[i].RefreshToken = refreshToken
		}
		return true, s.Save(f)
	}
	return false, nil
}

// IsExpired reports whether the account's token is past its expiry
// minus the margin. Exactly at the boundary is not expired.
func IsExpired(acc Account, margin time.Duration) bool {
	return isExpiredAt(acc, margin, time.Now())
}

func isExpiredAt(acc Account, margin time.Duration, now time.Time) bool {
	return now.UnixMilli() > acc.Expires-margin.Milliseconds()
}
