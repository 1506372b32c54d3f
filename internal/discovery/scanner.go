package discovery

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// ScanResult holds everything one scan pass found.
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError is a per-file failure; scanning continues past it.
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll scans every known source.
func ScanAll() *ScanResult {
	return Scan(Sources)
}

// Scan walks the given sources in order, collecting credentials and
// per-file errors.
func Scan(sources []Source) *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}

	for _, source := range sources {
		for _, pattern := range source.ConfigPaths {
			expanded := expandPath(pattern)
			matches, err := filepath.Glob(expanded)
			if err != nil {
				result.Errors = append(result.Errors, ScanError{
					Source: source.Name, Path: expanded, Error: err.Error(),
				})
				continue
			}

			for _, path := range matches {
				cred, err := source.Parser(path)
				if err != nil {
					result.Errors = append(result.Errors, ScanError{
						Source: source.Name, Path: path, Error: err.Error(),
					})
					continue
				}
				if cred != nil && (cred.AccessToken != "" || cred.RefreshToken != "") {
					log.Debugf("found %s credentials at %s", source.Name, path)
					result.Credentials = append(result.Credentials, *cred)
				}
			}
		}
	}
	return result
}

// MaskToken shortens a token for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
