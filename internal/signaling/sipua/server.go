// Package sipua receives inbound INVITEs and offers them to the callback
// registry.
package sipua

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Offerer hands an inbound call to whoever is waiting for it.
type Offerer interface {
	Offer(call signaling.InboundCall) (uuid.UUID, bool)
}

// Server is a minimal SIP user agent server for callback legs.
type Server struct {
	cfg     config.SIPConfig
	ua      *sipgo.UserAgent
	srv     *sipgo.Server
	offerer Offerer
	logger  *logger.Logger
}

// NewServer builds the user agent and registers the INVITE handler.
func NewServer(cfg config.SIPConfig, offerer Offerer, lg *logger.Logger) (*Server, error) {
	opts := []sipgo.UserAgentOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, sipgo.WithUserAgent(cfg.UserAgent))
	}
	ua, err := sipgo.NewUA(opts...)
	if err != nil {
		return nil, fmt.Errorf("sipua: new ua: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("sipua: new server: %w", err)
	}

	s := &Server{cfg: cfg, ua: ua, srv: srv, offerer: offerer, logger: lg.Named("sipua")}
	srv.OnInvite(s.handleInvite)
	return s, nil
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.logger.Info("sip listener starting", zap.String("network", s.cfg.Network), zap.String("address", s.cfg.Address))
	if err := s.srv.ListenAndServe(ctx, s.cfg.Network, s.cfg.Address); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sipua: listen: %w", err)
	}
	return nil
}

// Close releases the user agent.
func (s *Server) Close() error {
	return s.ua.Close()
}

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	call := newInboundCall(req, tx)
	lg := s.logger.With(
		zap.String("call_id", call.CallID()),
		zap.String("owner", call.Owner()),
		zap.String("from", call.FromUser()),
		zap.String("to", call.ToUser()),
	)

	if err := tx.Respond(sip.NewResponseFromRequest(req, statusTrying, "Trying", nil)); err != nil {
		lg.Error("send 100 trying", zap.Error(err))
		return
	}

	s.hold(call, tx.Done(), lg)
}

// hold offers the call and keeps the transaction open until the bridge
// answers it, the caller goes away or the answer window closes.
func (s *Server) hold(call *inboundCall, done <-chan struct{}, lg *zap.Logger) {
	pendingID, ok := s.offerer.Offer(call)
	if !ok {
		lg.Debug("inbound call not claimed")
		if _, err := call.reject(statusTemporarilyUnavailable, "Temporarily Unavailable"); err != nil {
			lg.Warn("reject unclaimed call", zap.Error(err))
		}
		return
	}
	lg = lg.With(zap.String("pending_id", pendingID.String()))
	lg.Info("inbound call claimed")

	window := time.NewTimer(s.cfg.AnswerWindow)
	defer window.Stop()

	select {
	case <-call.Answered():
		lg.Info("inbound call answered")
	case <-done:
		lg.Info("caller abandoned before answer")
	case <-window.C:
		sent, err := call.reject(statusRequestTimeout, "Request Timeout")
		if err != nil {
			lg.Warn("reject unanswered call", zap.Error(err))
		} else if sent {
			lg.Warn("claimed call not answered in time", zap.Duration("answer_window", s.cfg.AnswerWindow))
		}
	}
}
