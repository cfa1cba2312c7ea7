// Package dashboard serves read-only ticket statistics over HTTP and a live
// websocket feed of lifecycle events.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"support-bot/clock"
	"support-bot/events"
	"support-bot/priority"
	"support-bot/stats"
	"support-bot/ticket"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Config struct {
	Addr      string
	PublicURL string
	Secret    string
	TokenTTL  time.Duration
}

type StatsSource interface {
	Summary() stats.Summary
	Realtime() stats.Realtime
	StaffReport() []stats.StaffPerformance
}

type TicketSource interface {
	List(f ticket.Filter) []ticket.Ticket
	Samples() []priority.Sample
}

type Feed interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	cfg     Config
	stats   StatsSource
	tickets TicketSource
	feed    Feed
	clock   clock.Clock
	log     *zap.Logger

	echo     *echo.Echo
	upgrader websocket.Upgrader

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

func New(cfg Config, st StatsSource, tk TicketSource, feed Feed, clk clock.Clock, log *zap.Logger) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	s := &Server{
		cfg:     cfg,
		stats:   st,
		tickets: tk,
		feed:    feed,
		clock:   clk,
		log:     log.Named("dashboard"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.echo = s.routes()
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/health", s.health)

	api := e.Group("/api", requireToken(s.cfg.Secret, s.clock.Now))
	api.GET("/stats", s.getStats)
	api.GET("/realtime", s.getRealtime)
	api.GET("/staff-performance", s.getStaff)
	api.GET("/priority-metrics", s.getPriorityMetrics)
	api.GET("/tickets", s.getTickets)
	api.GET("/live", s.live)
	return e
}

// Start listens in the background. Calling it on a running server is an
// error.
func (s *Server) Start() error {
	if s.cfg.Secret == "" {
		return ErrNoSecret
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("dashboard: already running")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.echo, ReadHeaderTimeout: 10 * time.Second}
	s.srv, s.listener = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server stopped", zap.Error(err))
		}
	}()
	s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info("dashboard stopping")
	return srv.Shutdown(ctx)
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr is the bound address while running, empty otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) IssueToken(subject string) (string, time.Time, error) {
	return IssueToken(s.cfg.Secret, subject, s.cfg.TokenTTL, s.clock.Now())
}

// URL returns the public dashboard link carrying a fresh token.
func (s *Server) URL(subject string) (string, error) {
	tok, _, err := s.IssueToken(subject)
	if err != nil {
		return "", err
	}
	base := s.cfg.PublicURL
	if base == "" {
		base = "http://localhost" + s.cfg.Addr
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
