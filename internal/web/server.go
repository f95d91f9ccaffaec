// Package web serves the local browser UI that drives a session. Pages
// post actions back to the server, and a WebSocket pushes state changes
// and player commands to them.
package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/vidscout/internal/buildinfo"
	"github.com/nugget/vidscout/internal/connwatch"
	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/preview"
	"github.com/nugget/vidscout/internal/session"
)

// DefaultMaxUploadBytes caps a selected file when Config leaves it unset.
const DefaultMaxUploadBytes = 2 << 30

// Config holds the dependencies for the web UI.
type Config struct {
	Session  *session.Session
	Previews *preview.Store
	Bus      *events.Bus

	// MaxUploadBytes caps the body of a file selection request.
	MaxUploadBytes int64

	Logger *slog.Logger
}

// Server serves the UI pages, preview media, and the WebSocket.
type Server struct {
	session   *session.Session
	previews  *preview.Store
	hub       *Hub
	templates map[string]*template.Template
	maxUpload int64
	logger    *slog.Logger
}

// PageData is the template context for both pages.
type PageData struct {
	session.View
	Version string
}

// NewServer creates a Server. Templates are parsed here, so a broken
// template fails at startup.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		session:   cfg.Session,
		previews:  cfg.Previews,
		hub:       NewHub(cfg.Session, cfg.Bus, logger),
		templates: loadTemplates(),
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Hub returns the WebSocket hub. The caller runs it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// RegisterRoutes mounts the UI on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /select", s.handleSelect)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /jump", s.handleJump)
	mux.HandleFunc("POST /dismiss", s.handleDismiss)
	mux.HandleFunc("GET /subtitles", s.handleSubtitles)
	mux.HandleFunc("GET "+preview.URLPrefix+"{token}", s.handleMedia)
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the routed UI wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// page renders the loading gate until the backend has answered once,
// and the main page after that.
func (s *Server) page(w http.ResponseWriter, r *http.Request, status int) {
	data := PageData{View: s.session.Snapshot(), Version: buildinfo.Version}
	if !data.Ready {
		s.render(w, r, http.StatusOK, "loading.html", data)
		return
	}
	s.render(w, r, status, "index.html", data)
}

// gated reports whether the UI is still locked behind the loading
// gate, rendering the gate if so.
func (s *Server) gated(w http.ResponseWriter, r *http.Request) bool {
	if s.session.Snapshot().Ready {
		return false
	}
	data := PageData{View: s.session.Snapshot(), Version: buildinfo.Version}
	s.render(w, r, http.StatusServiceUnavailable, "loading.html", data)
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, http.StatusOK)
}

// handleSelect streams the multipart "file" field into the preview store
// without buffering it in memory.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if s.gated(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart form", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			// No file field: nothing selected, nothing changes.
			s.page(w, r, http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}

		err = s.session.SelectFile(part.FileName(), part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
				return
			}
			s.logger.Error("file selection failed", "name", part.FileName(), "error", err)
			http.Error(w, "could not store file", http.StatusInternalServerError)
			return
		}
		s.page(w, r, http.StatusOK)
		return
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.gated(w, r) {
		return
	}
	s.page(w, r, actionStatus(s.session.StartUpload(r.Context())))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.gated(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	s.session.SetQuery(r.PostFormValue("query"))
	s.page(w, r, actionStatus(s.session.StartSearch(r.Context())))
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.ParseFloat(r.FormValue("t"), 64)
	if err != nil || seconds < 0 {
		http.Error(w, "t must be a non-negative number of seconds", http.StatusBadRequest)
		return
	}
	if err := s.session.JumpTo(seconds); err != nil {
		s.logger.Debug("jump failed", "seconds", seconds, "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.session.ClearNotice()
	s.page(w, r, http.StatusOK)
}

// handleSubtitles streams the SRT as an attachment. The payload lives
// only for this response.
func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	if s.gated(w, r) {
		return
	}

	sub, err := s.session.DownloadSubtitles(r.Context())
	if err != nil {
		s.page(w, r, actionStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/x-subrip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": sub.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(sub.Data)))
	if _, err := w.Write(sub.Data); err != nil {
		s.logger.Debug("subtitle write failed", "video_id", sub.VideoID, "error", err)
	}
}

// handleMedia serves a preview file with range support so the player
// can seek.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	h, err := s.previews.Get(r.PathValue("token"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := h.Open()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}
	if h.ContentType != "" {
		w.Header().Set("Content-Type", h.ContentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, h.Name, info.ModTime(), f)
}

// HealthStatus is the JSON body of /healthz.
type HealthStatus struct {
	Status        string                  `json:"status"`
	Backend       connwatch.ServiceStatus `json:"backend"`
	CatalogLoaded bool                    `json:"catalog_loaded"`
	CatalogVideos int                     `json:"catalog_videos"`
	ActiveVideoID string                  `json:"active_video_id,omitempty"`
	Previews      int                     `json:"previews"`
	Pages         int                     `json:"pages"`
	Uptime        string                  `json:"uptime"`
	Build         map[string]string       `json:"build"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	videos, loaded := s.session.Catalog()
	st := HealthStatus{
		Status:        "ok",
		Backend:       s.session.Monitor().Status(),
		CatalogLoaded: loaded,
		CatalogVideos: len(videos),
		ActiveVideoID: s.session.Snapshot().ActiveVideoID,
		Previews:      s.previews.Live(),
		Pages:         s.hub.Clients(),
		Uptime:        buildinfo.Uptime().Round(time.Second).String(),
		Build:         buildinfo.BuildInfo(),
	}
	if !st.Backend.Ready {
		st.Status = "waiting"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// actionStatus maps a session action result to an HTTP status. The page
// is rendered either way; the state already carries the message. Backend
// and transport failures both land on 502.
func actionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrUploadInProgress), errors.Is(err, session.ErrSearchInProgress):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoFileSelected),
		errors.Is(err, session.ErrMissingPrerequisite),
		errors.Is(err, session.ErrNoActiveVideo):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
