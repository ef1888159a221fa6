package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

const maxBodyBytes = 4 << 20

// Page is a fetched response.
type Page struct {
	Status int
	URL    string
	Body   string
}

// Session issues sequential requests that share one cookie jar.
// It belongs to exactly one attempt.
type Session struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewSession creates an empty session. A nil transport uses http.DefaultTransport.
func NewSession(timeout time.Duration, userAgent string, transport http.RoundTripper) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("web session: cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Session{
		client:    &http.Client{Jar: jar, Transport: transport},
		timeout:   timeout,
		userAgent: userAgent,
	}, nil
}

// Get fetches a page.
func (s *Session) Get(ctx context.Context, target string) (Page, error) {
	return s.do(ctx, http.MethodGet, target, nil)
}

// PostForm submits a URL-encoded form; redirects are followed.
func (s *Session) PostForm(ctx context.Context, target string, form url.Values) (Page, error) {
	return s.do(ctx, http.MethodPost, target, form)
}

// Close drops idle connections. The session must not be reused.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func (s *Session) do(ctx context.Context, method, target string, form url.Values) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Page{}, fmt.Errorf("%w: build %s %s: %w", apperrors.ErrTransport, method, target, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s %s: %w", apperrors.ErrTransport, method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("%w: read %s: %w", apperrors.ErrTransport, target, err)
	}

	return Page{Status: resp.StatusCode, URL: resp.Request.URL.String(), Body: string(raw)}, nil
}
