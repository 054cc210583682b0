// Package web is the thin JSON boundary the browser console talks to.
// It does no rendering and holds no state; every handler delegates to the
// delivery subsystem and reports its results verbatim.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/teamdigitale/italia-messages-web/internal/dispatch"
	"github.com/teamdigitale/italia-messages-web/internal/eventbus"
	"github.com/teamdigitale/italia-messages-web/internal/profile"
	"github.com/teamdigitale/italia-messages-web/internal/report"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type Server struct {
	cfg Config
	log logx.Logger

	store    store.Store
	orch     *dispatch.Orchestrator
	profiles *profile.Service
	stats    *report.Aggregator
	bus      eventbus.Bus

	srv *http.Server
}

func New(cfg Config, st store.Store, orch *dispatch.Orchestrator, profiles *profile.Service, stats *report.Aggregator, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    st,
		orch:     orch,
		profiles: profiles,
		stats:    stats,
		bus:      bus,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	cc := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		cc.AllowOrigins = cfg.AllowedOrigins
	} else {
		cc.AllowAllOrigins = true
	}
	cc.AllowHeaders = []string{"Content-Type", "Authorization"}
	cc.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(cc))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/templates", s.createTemplate)
		apiGroup.GET("/templates/:id", s.getDocument(store.TypeTemplate))
		apiGroup.POST("/batches", s.createBatch)
		apiGroup.GET("/batches/:id/contacts", s.listBatchContacts)
		apiGroup.POST("/batches/:id/send", s.sendBatch)
		apiGroup.POST("/messages", s.sendMessage)
		apiGroup.GET("/messages/:id", s.getDocument(store.TypeMessage))
		apiGroup.GET("/stats/:kind/:id", s.getStats)
		apiGroup.GET("/events", s.streamEvents)
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}
