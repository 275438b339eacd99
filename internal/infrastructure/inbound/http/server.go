package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/report"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/routecache"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
	"github.com/sophialabs/meetpoint/internal/infrastructure/usecases"
)

const (
	maxBodySize      = 1 << 20 // 1 MB
	defaultRunsLimit = 50
	defaultKeepAlive = 15 * time.Second
)

// RouteCache is the admin view of the route cache.
type RouteCache interface {
	Stats() routecache.Stats
	Purge()
}

// Reloader reloads the station catalog.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Server exposes the meeting engine over HTTP.
type Server struct {
	router    *chi.Mux
	engine    *usecases.MeetingEngine
	prepareUC *usecases.PrepareSnapshotUseCase
	resolver  station.Resolver
	scorer    meeting.Scorer
	renderer  *report.Renderer
	validate  *validator.Validate
	logger    ports.Logger

	cache     RouteCache
	reloader  Reloader
	keepAlive time.Duration
}

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// KeepAlive is the interval between comment lines on idle event streams.
	KeepAlive time.Duration
}

type participantRequest struct {
	Name   string `json:"name" validate:"required,max=64"`
	Origin string `json:"origin" validate:"required,max=64"`
}

type meetingRequest struct {
	Participants []participantRequest    `json:"participants" validate:"max=32,unique=Name,dive"`
	Candidates   []usecases.CandidateRef `json:"candidates" validate:"max=32,dive"`
	Selected     string                  `json:"selected" validate:"max=64"`
}

// NewServer creates a new Server.
func NewServer(
	engine *usecases.MeetingEngine,
	prepareUC *usecases.PrepareSnapshotUseCase,
	resolver station.Resolver,
	scorer meeting.Scorer,
	renderer *report.Renderer,
	logger ports.Logger,
	opts Options,
) *Server {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	s := &Server{
		engine:    engine,
		prepareUC: prepareUC,
		resolver:  resolver,
		scorer:    scorer,
		renderer:  renderer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		keepAlive: opts.KeepAlive,
	}
	s.router = s.buildRouter(opts.AllowedOrigins)
	return s
}

// SetAdminDeps injects the optional admin dependencies.
func (s *Server) SetAdminDeps(cache RouteCache, reloader Reloader) {
	s.cache = cache
	s.reloader = reloader
}

func (s *Server) buildRouter(allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/meetings", s.handleSubmit)
		r.Get("/meetings/latest", s.handleLatest)
		r.Get("/meetings/latest/report", s.handleLatestReport)
		r.Get("/meetings/stream", s.handleStream)
		r.Get("/stations/{name}", s.handleStation)
		r.Post("/ratings", s.handleRate)
	})

	r.Route("/__admin", func(r chi.Router) {
		r.Get("/runs", s.handleRuns)
		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handleCachePurge)
		r.Post("/reload", s.handleReload)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"snapshot": s.engine.Current(),
		"runs":     s.engine.RunCounts(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req meetingRequest
	if !s.decode(w, r, &req) {
		return
	}

	participants := make([]meeting.Participant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = meeting.Participant{Name: p.Name, Origin: p.Origin}
	}

	prepared, err := s.prepareUC.Execute(r.Context(), usecases.SnapshotRequest{
		Participants: participants,
		Candidates:   req.Candidates,
		Selected:     req.Selected,
	})
	if err != nil {
		s.logger.Error("failed to prepare snapshot", "error", err)
		writeError(w, statusFor(err), "prepare_failed", err.Error())
		return
	}

	id, err := s.engine.Submit(prepared.Snapshot)
	if err != nil {
		writeError(w, statusFor(err), "submit_failed", err.Error())
		return
	}

	unresolved := prepared.Unresolved
	if unresolved == nil {
		unresolved = []string{}
	}
	s.logger.Info("snapshot submitted",
		"snapshot", id,
		"participants", len(participants),
		"candidates", len(prepared.Snapshot.Candidates),
		"unresolved", len(unresolved),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"snapshot_id": id,
		"candidates":  prepared.Snapshot.Candidates,
		"unresolved":  unresolved,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	u, ok := s.engine.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, _ *http.Request) {
	u, ok := s.engine.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, u); err != nil {
		s.logger.Error("report render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "render_failed", "report rendering failed, check server logs")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleStream sends every update as a server-sent event until the client
// disconnects or the engine closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	updates, cancel := s.engine.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("streaming not supported", "error", err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				s.logger.Error("failed to encode update", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.SnapshotID, u.Status, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	info, err := s.resolver.Resolve(r.Context(), name)
	if err != nil {
		writeError(w, statusFor(err), "resolve_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var summary meeting.CandidateSummary
	if !s.decode(w, r, &summary) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rating":       s.scorer.Rate(summary),
		"reachability": summary.Reachability(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.engine.History(limit)
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "route cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCachePurge(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "route cache is disabled")
		return
	}
	s.cache.Purge()
	s.logger.Info("route cache purged")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "route cache purged"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "no station catalog configured")
		return
	}
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.logger.Error("catalog reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reload_failed", "catalog reload failed, check server logs")
		return
	}
	s.logger.Info("station catalog reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "catalog reloaded"})
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]map[string]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, map[string]string{
					"field": fe.Namespace(),
					"rule":  fe.Tag(),
				})
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid_request",
				"message": "request failed validation",
				"fields":  fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, station.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, meeting.ErrDuplicateParticipant):
		return http.StatusBadRequest
	case errors.Is(err, usecases.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, route.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
