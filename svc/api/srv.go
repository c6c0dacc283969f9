package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"textdrop/cfg"
	"textdrop/svc/db"
	"textdrop/svc/gh"
	"textdrop/svc/lim"
	"textdrop/svc/svc"
	"textdrop/svc/util"
)

type Server struct {
	router     *chi.Mux
	text       *svc.Text
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, t *svc.Text, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis, ghClient *gh.Client) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router: r,
		text:   t,
		lim:    l,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", middleware.Profiler())

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		hdl := &Hdl{text: t, gh: ghClient, cfg: c}
		r.With(mw.Observe("create"), mw.RateLimit("create")).Post("/text", hdl.CreateText)
		r.With(mw.Observe("read"), mw.RateLimit("read")).Get("/text/{id}", hdl.GetText)
		r.With(mw.Observe("update"), mw.RateLimit("write")).Put("/text/{id}", hdl.UpdateText)
		r.With(mw.Observe("delete"), mw.RateLimit("write")).Delete("/text/{id}", hdl.DeleteText)
		r.With(mw.Observe("download"), mw.RateLimit("read")).Get("/download/{id}", hdl.DownloadText)
		r.With(mw.Observe("lock"), mw.RateLimit("write")).Post("/lock/{id}", hdl.LockText)
		r.With(mw.Observe("raw"), mw.RateLimit("read")).Get("/raw/{filePath}", hdl.RawFile)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
