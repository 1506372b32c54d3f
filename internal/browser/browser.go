// Package browser opens URLs in the user's default browser. The
// Launcher indirection exists so the auth flow can be driven headless
// in tests.
package browser

import (
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
)

// Launcher opens a URL in the user's browser.
type Launcher func(url string) error

// Open is the default Launcher.
func Open(url string) error {
	log.Debugf("opening browser: %s", url)
	return browser.OpenURL(url)
}
