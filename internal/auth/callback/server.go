// Package callback hosts the single-use local HTTP endpoint that
// receives the provider's OAuth redirect.
//
// The listener reconciles three triggers racing to resolve one flow: a
// success redirect, a denial redirect, and the timeout. Whichever fires
// first claims the flow through a compare-and-swap guard; the rest
// become no-ops. Malformed requests (browser favicon probes, preflight
// noise) get a 400 page and the listener keeps waiting.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

const (
	// Port is the fixed local callback port. A second concurrent
	// flow fails fast with ErrPortInUse instead of picking another
	// port, so the redirect URI registered with the provider stays
	// stable.
	Port = 51121

	// Path is the redirect path registered with the provider.
	Path = "/oauth-callback"

	// Timeout is how long to wait for the browser round-trip.
	Timeout = 5 * time.Minute
)

var (
	// ErrPortInUse indicates another process holds the callback
	// port, usually a concurrent login attempt.
	ErrPortInUse = errors.New("callback port already in use")

	// ErrTimeout indicates no valid redirect arrived in time.
	ErrTimeout = errors.New("timed out waiting for OAuth callback")

	// ErrUserDenied indicates the user rejected the consent screen.
	ErrUserDenied = errors.New("authorization denied")
)

// CompleteFunc finishes the flow for a well-formed redirect: validate
// state, exchange the code, persist the account. Its error decides
// which page the browser sees.
type CompleteFunc func(ctx context.Context, code, stateToken string) error

// Server is a one-shot callback listener bound to the fixed port.
type Server struct {
	listener net.Listener
	srv      *http.Server
	complete CompleteFunc
	timeout  time.Duration

	claimed  atomic.Bool
	result   chan error
	shutdown sync.Once
}

// Listen binds the fixed port and starts serving the callback path.
// The caller must always call Wait (or Close) afterwards so the port is
// released.
func Listen(complete CompleteFunc) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", Port))
	if err != nil {
		return nil, fmt.Errorf("%w: port %d (%v)", ErrPortInUse, Port, err)
	}

	s := &Server{
		listener: ln,
		complete: complete,
		timeout:  Timeout,
		result:   make(chan error, 1),
	}

	r := chi.NewRouter()
	r.Get(Path, s.handleCallback)

	s.srv = &http.Server{Handler: r}
	// One request is all we serve; drop keep-alives so the socket
	// releases as soon as the response is flushed.
	s.srv.SetKeepAlivesEnabled(false)

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Debugf("callback server: %v", err)
		}
	}()

	log.Debugf("callback server listening on port %d", Port)
	return s, nil
}

// Wait blocks until the flow resolves: first valid redirect wins, or
// the timeout (or ctx) fires. The listener is torn down on every exit
// path before Wait returns.
func (s *Server) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	defer s.Close()

	select {
	case err := <-s.result:
		return err
	case <-timer.C:
		if s.claimed.CompareAndSwap(false, true) {
			return ErrTimeout
		}
		// A redirect claimed the flow just before the timer fired;
		// its outcome wins.
		return <-s.result
	case <-ctx.Done():
		if s.claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-s.result
	}
}

// Close shuts the listener down and releases the port. Safe to call
// multiple times and from any goroutine.
func (s *Server) Close() {
	s.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			log.Debugf("callback server shutdown: %v", err)
		}
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	stateToken := q.Get("state")
	errParam := q.Get("error")

	// Neither a grant nor a denial: some browsers poke the port with
	// spurious requests. Keep listening.
	if errParam == "" && (code == "" || stateToken == "") {
		log.Debugf("ignoring malformed callback request from %s", r.RemoteAddr)
		writePage(w, http.StatusBadRequest, "Invalid request",
			"The callback request was missing required parameters. Leave this page open and retry from the terminal.")
		return
	}

	if !s.claimed.CompareAndSwap(false, true) {
		writePage(w, http.StatusBadRequest, "Flow already completed",
			"This login attempt has already finished. Return to your terminal.")
		return
	}

	if errParam != "" {
		writePage(w, http.StatusOK, "Authorization denied",
			"You can close this window and return to your terminal.")
		s.result <- fmt.Errorf("%w: %s", ErrUserDenied, errParam)
		return
	}

	if err := s.complete(r.Context(), code, stateToken); err != nil {
		writePage(w, http.StatusInternalServerError, "Login failed",
			fmt.Sprintf("Authentication could not be completed: %v. Return to your terminal and retry.", err))
		s.result <- err
		return
	}

	writePage(w, http.StatusOK, "Login successful",
		"Authentication complete. You can close this window and return to your terminal.")
	s.result <- nil
}

func writePage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>%s</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; text-align: center; }
		h1 { font-size: 24px; }
	</style>
</head>
<body>
	<h1>%s</h1>
	<p>%s</p>
</body>
</html>`, title, title, body)
}
