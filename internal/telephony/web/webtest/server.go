// Package webtest provides a scripted stand-in for the voice web service.
package webtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/acme/click-to-call-bridge/internal/config"
)

const sessionCookie = "SID"

// Server serves the pre-login, auth, home and call endpoints.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	hits         map[string]int
	lastCallForm url.Values

	// Scripted behaviour; set before use.
	AntiForgeryToken string
	CallAuthToken    string
	AuthStatus       int
	CallStatus       int
	PreLoginDelay    time.Duration
}

// NewServer starts a server that accepts any credentials.
func NewServer() *Server {
	s := &Server{
		hits:             make(map[string]int),
		AntiForgeryToken: "GALX1",
		CallAuthToken:    "RNR1",
		AuthStatus:       http.StatusOK,
		CallStatus:       http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ServiceLogin", s.preLogin)
	mux.HandleFunc("/ServiceLoginAuth", s.authenticate)
	mux.HandleFunc("/voice/", s.home)
	mux.HandleFunc("/voice/call/connect/", s.call)
	s.Server = httptest.NewServer(mux)
	return s
}

// Config points a CallBridgeConfig at this server.
func (s *Server) Config(stepTimeout time.Duration) config.CallBridgeConfig {
	return config.CallBridgeConfig{
		HTTPStepTimeout:    stepTimeout,
		RendezvousDeadline: 30 * time.Second,
		PrefixLength:       1,
		MarkerHeader:       "Diversion",
		PreLoginURL:        s.URL + "/ServiceLogin",
		AuthURL:            s.URL + "/ServiceLoginAuth",
		HomeURL:            s.URL + "/voice/",
		CallURL:            s.URL + "/voice/call/connect/",
		PhoneType:          "2",
	}
}

// Hits returns how many times path was requested.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// LastCallForm returns the form posted to the call endpoint.
func (s *Server) LastCallForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCallForm
}

func (s *Server) record(r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()
}

func (s *Server) preLogin(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if s.PreLoginDelay > 0 {
		select {
		case <-time.After(s.PreLoginDelay):
		case <-r.Context().Done():
			return
		}
	}
	fmt.Fprint(w, `<html><form id="gaia_loginform">`)
	if s.AntiForgeryToken != "" {
		fmt.Fprintf(w, "<input type=\"hidden\"\n  name=\"GALX\"\n  value=\"%s\">", s.AntiForgeryToken)
	}
	fmt.Fprint(w, `</form></html>`)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if r.Method != http.MethodPost || r.PostFormValue("GALX") != s.AntiForgeryToken || r.PostFormValue("Email") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.AuthStatus != http.StatusOK {
		w.WriteHeader(s.AuthStatus)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "authenticated", Path: "/"})
	http.Redirect(w, r, r.PostFormValue("continue"), http.StatusFound)
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if !authenticated(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fmt.Fprint(w, `<html><body><form>`)
	if s.CallAuthToken != "" {
		fmt.Fprintf(w, `<input value="%s" type="hidden" name="_rnr_se"/>`, s.CallAuthToken)
	}
	fmt.Fprint(w, `</form></body></html>`)
}

func (s *Server) call(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if r.Method != http.MethodPost || !authenticated(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.lastCallForm = r.PostForm
	s.mu.Unlock()

	if r.PostForm.Get("_rnr_se") != s.CallAuthToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(s.CallStatus)
	fmt.Fprint(w, `{"ok":true}`)
}

func authenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == "authenticated"
}
