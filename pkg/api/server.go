package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/pipeline"
	"github.com/kiranamart/mandi/pkg/session"
)

// Server is the HTTP surface: the chat endpoint, confirmation and OTP
// relays, session reads, and the WebSocket event stream. Handlers hold no
// state of their own; everything is delegated to the run manager, the
// session store, and the rendezvous hubs.
type Server struct {
	cfg         *config.Config
	store       *session.Store
	manager     *pipeline.RunManager
	hub         *pipeline.ConfirmationHub
	connManager *events.ConnectionManager

	// Optional surfaces wired via Set* after construction.
	otp      *connector.OTPGateway
	monitor  *connector.HealthMonitor
	warnings *connector.SystemWarnings
	jnl      *journal.Journal
	audit    *journal.AuditLog

	echo *echo.Echo
	srv  *http.Server

	logger *slog.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(
	cfg *config.Config,
	store *session.Store,
	manager *pipeline.RunManager,
	hub *pipeline.ConfirmationHub,
	connManager *events.ConnectionManager,
) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		manager:     manager,
		hub:         hub,
		connManager: connManager,
		echo:        echo.New(),
		logger:      slog.Default().With("component", "api.Server"),
	}
	s.srv = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// SetOTPGateway wires the OTP rendezvous used by POST /api/otp.
func (s *Server) SetOTPGateway(g *connector.OTPGateway) { s.otp = g }

// SetHealthMonitor wires connector health into /healthz.
func (s *Server) SetHealthMonitor(m *connector.HealthMonitor) { s.monitor = m }

// SetSystemWarnings wires the warning registry into /healthz.
func (s *Server) SetSystemWarnings(w *connector.SystemWarnings) { s.warnings = w }

// SetJournal wires the checkpoint journal health into /healthz.
func (s *Server) SetJournal(j *journal.Journal) { s.jnl = j }

// SetAuditLog wires the audit log, used by /healthz and GET /api/history.
func (s *Server) SetAuditLog(a *journal.AuditLog) { s.audit = a }

// ValidateWiring reports whether every required dependency is present.
// Optional surfaces (OTP gateway, monitor, warnings, journals) degrade to
// 503 or are omitted from responses when absent.
func (s *Server) ValidateWiring() error {
	switch {
	case s.cfg == nil:
		return errors.New("api: config is nil")
	case s.store == nil:
		return errors.New("api: session store is nil")
	case s.manager == nil:
		return errors.New("api: run manager is nil")
	case s.hub == nil:
		return errors.New("api: confirmation hub is nil")
	}
	return nil
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/healthz", s.healthHandler)

	e.POST("/api/chat/process", s.processChatHandler)
	e.POST("/api/order/confirm", s.confirmOrderHandler)
	e.POST("/api/cancel", s.cancelHandler)
	e.POST("/api/otp", s.otpHandler)
	e.GET("/api/session/:id", s.getSessionHandler)
	e.GET("/api/history", s.historyHandler)

	e.GET("/ws/events/:session_id", s.wsHandler)
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on an existing listener. Blocks until Shutdown;
// a clean shutdown returns nil.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.connManager != nil {
		s.connManager.CloseAll()
	}
	return s.srv.Shutdown(ctx)
}
