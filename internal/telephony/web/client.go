package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/telephony"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Client drives the voice web service: a three step login followed by a
// single call request. It holds no per-attempt state; every Login returns
// a fresh Session.
type Client struct {
	cfg       config.CallBridgeConfig
	transport http.RoundTripper
	logger    *logger.Logger
}

var _ telephony.Provider = (*Client)(nil)

// NewClient builds a client. A nil transport uses http.DefaultTransport.
func NewClient(cfg config.CallBridgeConfig, transport http.RoundTripper, lg *logger.Logger) *Client {
	return &Client{cfg: cfg, transport: transport, logger: lg.Named("web")}
}

// Login acquires an authenticated session and the call authorization token.
// Steps are strictly ordered and never retried: the anti-forgery token is
// single use, so a retry has to start over from the pre-login page.
func (c *Client) Login(ctx context.Context, creds telephony.Credentials) (telephony.Session, telephony.CallAuthToken, error) {
	if creds.Identity == "" || creds.Secret == "" {
		return nil, "", fmt.Errorf("%w: identity and secret are required", apperrors.ErrValidation)
	}

	sess, err := NewSession(c.cfg.HTTPStepTimeout, c.cfg.UserAgent, c.transport)
	if err != nil {
		return nil, "", err
	}

	token, err := c.login(ctx, sess, creds)
	if err != nil {
		sess.Close()
		return nil, "", fmt.Errorf("login: %w", err)
	}
	return sess, token, nil
}

func (c *Client) login(ctx context.Context, sess *Session, creds telephony.Credentials) (telephony.CallAuthToken, error) {
	page, err := sess.Get(ctx, c.cfg.PreLoginURL)
	if err != nil {
		return "", err
	}
	if page.Status != http.StatusOK {
		return "", apperrors.NewStatusError(apperrors.ErrTransport, "pre-login", page.Status)
	}
	galx, err := ExtractToken(page.Body, FieldAntiForgery)
	if err != nil {
		return "", err
	}
	c.logger.Debug("pre-login token acquired")

	form := url.Values{
		"Email":            {creds.Identity},
		"Passwd":           {creds.Secret},
		"GALX":             {galx},
		"continue":         {c.cfg.HomeURL},
		"service":          {"grandcentral"},
		"PersistentCookie": {"yes"},
	}
	page, err = sess.PostForm(ctx, c.cfg.AuthURL, form)
	if err != nil {
		return "", err
	}
	if page.Status != http.StatusOK {
		return "", apperrors.NewStatusError(apperrors.ErrAuthenticationRejected, "authenticate", page.Status)
	}
	c.logger.Debug("credentials accepted")

	page, err = sess.Get(ctx, c.cfg.HomeURL)
	if err != nil {
		return "", err
	}
	if page.Status != http.StatusOK {
		return "", apperrors.NewStatusError(apperrors.ErrTransport, "home", page.Status)
	}
	rnr, err := ExtractToken(page.Body, FieldCallAuth)
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenNotFound) {
			return "", fmt.Errorf("%w: field %q missing from home page", apperrors.ErrCallAuthTokenNotFound, FieldCallAuth)
		}
		return "", err
	}

	return telephony.CallAuthToken(rnr), nil
}

// TriggerCall posts the call request on an authenticated session.
func (c *Client) TriggerCall(ctx context.Context, session telephony.Session, params telephony.CallRequestParams) error {
	sess, ok := session.(*Session)
	if !ok {
		return fmt.Errorf("%w: unexpected session type %T", apperrors.ErrValidation, session)
	}

	form := url.Values{
		"outgoingNumber":   {params.DialDestination()},
		"forwardingNumber": {params.ForwardingDestination()},
		"subscriberNumber": {"undefined"},
		"phoneType":        {c.cfg.PhoneType},
		"remember":         {"0"},
		"_rnr_se":          {string(params.Token())},
	}

	page, err := sess.PostForm(ctx, c.cfg.CallURL, form)
	if err != nil {
		return fmt.Errorf("call trigger: %w", err)
	}
	if page.Status != http.StatusOK {
		return fmt.Errorf("call trigger: %w", apperrors.NewStatusError(apperrors.ErrCallRequestRejected, "call", page.Status))
	}

	c.logger.Info("call request accepted",
		zap.String("dial", params.DialDestination()),
		zap.String("forwarding", params.ForwardingDestination()),
	)
	return nil
}
