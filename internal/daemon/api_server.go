package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mortdiggiddy/video-translator/internal/api"
	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/registry"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind     string
	logger   *slog.Logger
	registry *registry.Registry
	daemon   *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, reg *registry.Registry, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.APIBind),
		logger:   logging.WithComponent(logger, "api"),
		registry: reg,
		daemon:   d,
	}

	router := mux.NewRouter()
	router.Use(authMiddleware(cfg.APIToken))
	router.HandleFunc("/api/runs", srv.handleStartRun).Methods(http.MethodPost)
	router.HandleFunc("/api/runs", srv.handleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}", srv.handleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}/progress", srv.handleProgress).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}/cancel", srv.handleCancel).Methods(http.MethodPost)
	router.HandleFunc("/api/prune", srv.handlePrune).Methods(http.MethodPost)
	router.HandleFunc("/api/status", srv.handleStatus).Methods(http.MethodGet)

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, services.KindPermanent, "invalid request body: "+err.Error())
		return
	}

	created, err := s.registry.Start(r.Context(), req.MediaPath, req.SourceLang, req.TargetLang, req.WantVideo, req.BurnInSubs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.RunViewFrom(created))
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.registry.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]api.RunView, 0, len(runs))
	for _, item := range runs {
		views = append(views, api.RunViewFrom(item))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	item, err := s.registry.Describe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunViewFrom(item))
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Progress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ProgressViewFrom(snap))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handlePrune(w http.ResponseWriter, r *http.Request) {
	removed, err := s.registry.Prune(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PruneResult{Removed: removed})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	counts := make(map[string]int, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}
	s.writeJSON(w, http.StatusOK, api.StatusView{
		Running:   s.daemon.running.Load(),
		StorePath: s.daemon.store.Path(),
		Counts:    counts,
	})
}

// writeServiceError maps error kinds onto HTTP statuses.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	details := services.Detail(err)
	status := http.StatusInternalServerError
	switch details.Kind {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindPermanent:
		status = http.StatusBadRequest
	case services.KindUnavailable:
		status = http.StatusServiceUnavailable
	case services.KindConflict:
		status = http.StatusConflict
	}
	s.writeError(w, status, details.Kind, details.Message)
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, kind services.Kind, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(kind)})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}
