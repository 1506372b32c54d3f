// Package discovery scans config files left behind by other AI tools
// for reusable OAuth credentials, so users can import an account
// without repeating the browser flow.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credential is an OAuth credential found on disk.
type Credential struct {
	Source       string    `json:"source"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ProjectID    string    `json:"project_id"`
	ConfigPath   string    `json:"config_path"`
}

// Importable reports whether the credential carries enough to become a
// stored account: a durable refresh token and an identifying email.
func (c Credential) Importable() bool {
	return c.RefreshToken != "" && c.Email != ""
}

// Source is one known credential location.
type Source struct {
	Name        string
	Description string
	ConfigPaths []string // with ~ expansion and glob patterns
	Parser      func(path string) (*Credential, error)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Sources lists all known credential locations, most specific first.
var Sources = []Source{
	{
		Name:        "antigravity",
		Description: "Antigravity IDE",
		ConfigPaths: []string{
			"~/.gemini/antigravity/google_ai_credentials.json",
		},
		Parser: parseFlatCredentials("antigravity"),
	},
	{
		Name:        "gemini-cli",
		Description: "Gemini CLI",
		ConfigPaths: []string{
			"~/.gemini/oauth_creds.json",
			"~/.config/gemini-cli/credentials.json",
		},
		Parser: parseFlatCredentials("gemini-cli"),
	},
	{
		Name:        "gcloud",
		Description: "gcloud application default credentials",
		ConfigPaths: []string{
			"~/.config/gcloud/application_default_credentials.json",
		},
		Parser: parseADCCredentials,
	},
}

// flatCredentials is the common {access_token, refresh_token, ...}
// layout shared by Antigravity and Gemini CLI.
type flatCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiryDate   int64  `json:"expiry_date"` // epoch ms variant
	Email        string `json:"email"`
	ProjectID    string `json:"project_id"`
}

func parseFlatCredentials(source string) func(path string) (*Credential, error) {
	return func(path string) (*Credential, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var creds flatCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, err
		}

		expires := time.Unix(creds.ExpiresAt, 0)
		if creds.ExpiryDate > 0 {
			expires = time.UnixMilli(creds.ExpiryDate)
		}
		return &Credential{
			Source:       source,
			Email:        creds.Email,
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			ExpiresAt:    expires,
			ProjectID:    creds.ProjectID,
			ConfigPath:   path,
		}, nil
	}
}

// parseADCCredentials reads gcloud's application default credentials.
// ADC files carry no email, so these are listed but not importable.
func parseADCCredentials(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds struct {
		RefreshToken string `json:"refresh_token"`
		QuotaProject string `json:"quota_project_id"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &Credential{
		Source:       "gcloud",
		RefreshToken: creds.RefreshToken,
		ProjectID:    creds.QuotaProject,
		ConfigPath:   path,
	}, nil
}
