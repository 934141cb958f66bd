package logapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"loggram/internal/logstore"
	"loggram/internal/runtime/supervisor"
	logx "loggram/pkg/logx"
)

// Retention schedules automatic log cleanup.
type Retention struct {
	Enabled    bool
	Schedule   string // cron spec, e.g. "0 3 * * *"
	MaxAgeDays int
}

type Options struct {
	ProjectName string
	Listen      string
	Store       *logstore.Store
	Log         logx.Logger
	Retention   Retention
}

// Server is one project's log ingestion/query HTTP service.
type Server struct {
	project   string
	store     *logstore.Store
	log       logx.Logger
	retention Retention

	httpSrv *http.Server
	cron    *cron.Cron
	sup     *supervisor.Supervisor
}

func New(opts Options) *Server {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		project:   opts.ProjectName,
		store:     opts.Store,
		log:       log.With(logx.String("component", "logapi")),
		retention: opts.Retention,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.withAccessLog(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start brings up the listener and, when enabled, the retention job.
// It returns once the listener goroutine is launched; a failed bind
// surfaces through the supervisor error.
func (s *Server) Start(ctx context.Context) error {
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	if s.retention.Enabled {
		spec := s.retention.Schedule
		if spec == "" {
			spec = "0 3 * * *"
		}
		c := cron.New()
		if _, err := c.AddFunc(spec, s.runRetention); err != nil {
			return err
		}
		c.Start()
		s.cron = c
		s.log.Info("retention scheduled",
			logx.String("schedule", spec),
			logx.Int("max_age_days", s.retention.MaxAgeDays))
	}

	s.sup.Go("logapi.http", func(ctx context.Context) error {
		s.log.Info("http server listening", logx.String("addr", s.httpSrv.Addr))
		err := s.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	err := s.httpSrv.Shutdown(ctx)
	if s.sup != nil {
		_ = s.sup.Stop(ctx)
	}
	return err
}

// Err reports the first background failure (e.g. a failed bind).
func (s *Server) Err() error {
	if s.sup == nil {
		return nil
	}
	return s.sup.Err()
}

func (s *Server) runRetention() {
	days := s.retention.MaxAgeDays
	if days <= 0 {
		days = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.store.Cleanup(ctx, days, 0); err != nil {
		s.log.Error("retention cleanup failed", logx.Err(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)))
	})
}
