package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frazar/scandex/internal/api/handlers"
	"github.com/frazar/scandex/internal/config"
	"github.com/frazar/scandex/internal/executor"
	"github.com/frazar/scandex/internal/index"
	"github.com/frazar/scandex/internal/scan"
	"github.com/frazar/scandex/internal/scheduler"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(
	addr string,
	cfg *config.Config,
	project *scan.Project,
	services *scan.Services,
	exec *executor.Executor,
	history *index.HistoryStore,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Project: project, Executor: exec, Sched: sched, Version: version}
	scansH := &handlers.ScansHandler{Project: project, Services: services, Executor: exec, History: history}
	configH := &handlers.ConfigHandler{Cfg: cfg}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Get("/scans/{session}", scansH.Get)
		r.Delete("/scans/current", scansH.Cancel)
		r.Post("/scans/current/suspend", scansH.Suspend)
		r.Post("/scans/current/resume", scansH.Resume)

		r.Get("/config", configH.Get)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
