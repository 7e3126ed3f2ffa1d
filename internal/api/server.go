package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/chart"
	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/store"
)

// StateSource provides the published forecast.
type StateSource interface {
	State() *forecast.State
	LastError() error
}

// Controller accepts the commands the API exposes.
type Controller interface {
	Arrays() []models.ArrayConfig
	SetSnowOverride(name string, o models.SnowOverride) error
	RequestRefresh()
}

type Config struct {
	Addr     string
	Location *time.Location
	State    StateSource
	Control  Controller
	Store    *store.Store // optional, for fetch run history
	Logger   *zap.Logger
	Now      func() time.Time
}

type Server struct {
	addr    string
	loc     *time.Location
	state   StateSource
	control Controller
	store   *store.Store
	logger  *zap.Logger
	now     func() time.Time
	tmpl    *template.Template
	charts  *chart.Cache
	hub     *Hub
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger.Named("api")
	return &Server{
		addr:    cfg.Addr,
		loc:     cfg.Location,
		state:   cfg.State,
		control: cfg.Control,
		store:   cfg.Store,
		logger:  logger,
		now:     cfg.Now,
		tmpl:    newTemplates(),
		charts:  chart.NewCache(5 * time.Minute),
		hub:     NewHub(logger),
	}
}

// Publish pushes a new state to websocket clients. It is registered as a
// scheduler subscriber.
func (s *Server) Publish(state *forecast.State) {
	msg, err := encodeUpdate(s.forecastResponse(state))
	if err != nil {
		s.logger.Warn("encode state update", zap.Error(err))
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /chart.png", s.handleChart)
	mux.HandleFunc("GET /api/forecast", s.handleAPIForecast)
	mux.HandleFunc("GET /api/energy", s.handleAPIEnergy)
	mux.HandleFunc("GET /api/arrays", s.handleAPIArrays)
	mux.HandleFunc("GET /api/arrays/{name}", s.handleAPIArray)
	mux.HandleFunc("POST /api/arrays/{name}/snow", s.handleAPISnow)
	mux.HandleFunc("POST /api/refresh", s.handleAPIRefresh)
	mux.HandleFunc("GET /api/fetch-runs", s.handleAPIFetchRuns)
	mux.HandleFunc("GET /api/payloads/stats", s.handleAPIPayloadStats)
	mux.HandleFunc("GET /api/payloads/{id}", s.handleAPIPayload)
	mux.Handle("GET /ws", s.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
