// Package session is the client-side state machine for one video
// workflow: backend availability gating, file selection, upload, search,
// playback seeking, and subtitle export.
//
// A Session is the single owner of all mutable client state. Every change
// goes through a method so the cross-component rules hold in one place:
//
//   - the active video id is set only by a successful upload;
//   - a search is sent only with an active video and a non-blank query;
//   - selecting a new file releases the previous preview and clears the
//     upload, results, summary, and status left over from the old file.
//
// Network calls run outside the lock. Each request records the session
// generation it was issued under; a completion that arrives after a newer
// file was selected is discarded instead of overwriting fresh state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nugget/vidscout/internal/backend"
	"github.com/nugget/vidscout/internal/connwatch"
	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/preview"
)

// Precondition and concurrency errors. None of them issue a request.
var (
	ErrNoFileSelected      = errors.New("no file selected")
	ErrUploadInProgress    = errors.New("upload already in progress")
	ErrMissingPrerequisite = errors.New("search needs an uploaded video and a query")
	ErrSearchInProgress    = errors.New("search already in progress")
	ErrNoActiveVideo       = errors.New("no active video")

	// ErrStaleCompletion is returned by a request whose file was
	// replaced while it was in flight. Its result was dropped.
	ErrStaleCompletion = errors.New("completion discarded: file was replaced")
)

// User-facing status and notice text.
const (
	msgSelectFirst     = "Please select a video file first."
	msgProcessing      = "Processing video... This may take a few minutes."
	msgUploadOK        = "Video processed successfully! Found %d chunks."
	msgUploadFailed    = "Upload failed: %s"
	msgNeedVideoQuery  = "Please upload a video and enter a search query."
	msgSearchFailed    = "Search failed: %s"
	msgNoVideoID       = "Video ID not found."
	msgSRTFailed       = "Failed to download SRT: %s"
	msgDownloadFailed  = "Download failed: %s"
	catalogLoadTimeout = 30 * time.Second
)

// Phase is the lifecycle stage of an upload or search.
type Phase int

// Phases shared by uploads and searches.
const (
	PhaseIdle Phase = iota
	PhaseInProgress
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInProgress:
		return "in_progress"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// UploadState is the upload lifecycle. VideoID, Summary, and TotalChunks
// are meaningful only when Phase is PhaseSucceeded; Message only when
// PhaseFailed.
type UploadState struct {
	Phase       Phase
	VideoID     string
	Summary     string
	TotalChunks int
	Message     string
}

// SearchState is the search lifecycle. Results hold the last successful
// response in backend order.
type SearchState struct {
	Phase   Phase
	Results []backend.Result
	Message string
}

// Backend is the subset of the backend client the session drives.
type Backend interface {
	Health(ctx context.Context) error
	UploadVideo(ctx context.Context, filename string, r io.Reader) (*backend.UploadResponse, error)
	Search(ctx context.Context, req backend.SearchRequest) ([]backend.Result, error)
	DownloadSRT(ctx context.Context, videoID string) ([]byte, error)
	ListVideos(ctx context.Context) ([]backend.Video, error)
}

// Config wires a Session to its collaborators.
type Config struct {
	Backend  Backend
	Previews *preview.Store
	Bus      *events.Bus
	Logger   *slog.Logger

	// Liveness schedule, passed to the availability monitor.
	RetryInterval time.Duration
	PollInterval  time.Duration
	ProbeTimeout  time.Duration
}

// Session holds all client state for one browser tab's worth of work.
type Session struct {
	backend  Backend
	previews *preview.Store
	bus      *events.Bus
	logger   *slog.Logger
	monitor  *connwatch.Monitor

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu            sync.Mutex
	ready         bool
	available     bool
	file          *preview.Handle
	generation    uint64
	upload        UploadState
	activeVideoID string
	query         string
	search        SearchState
	summary       string
	status        string
	statusIsError bool
	notice        string
	catalog       []backend.Video
	catalogLoaded bool
	player        Player
}

// New creates a Session. Nothing runs until OnStart.
func New(cfg Config) *Session {
	if cfg.Backend == nil {
		panic("session: Config.Backend must not be nil")
	}
	if cfg.Previews == nil {
		panic("session: Config.Previews must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		backend:  cfg.Backend,
		previews: cfg.Previews,
		bus:      cfg.Bus,
		logger:   logger,
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	s.monitor = connwatch.New(connwatch.Config{
		Name:          "backend",
		Probe:         cfg.Backend.Health,
		RetryInterval: cfg.RetryInterval,
		PollInterval:  cfg.PollInterval,
		ProbeTimeout:  cfg.ProbeTimeout,
		OnReady:       s.markReady,
		OnChange:      s.setAvailable,
		Logger:        logger,
	})
	return s
}

// OnStart begins the liveness probe and the fire-and-forget catalog
// load. Background work started later by StartUpload and StartSearch is
// bound to ctx as well.
func (s *Session) OnStart(ctx context.Context) {
	s.mu.Lock()
	s.runCancel()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	s.monitor.Start(runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loadCatalog(runCtx)
	}()
}

// OnStop stops the monitor, cancels background requests, and releases
// every preview the session still holds.
func (s *Session) OnStop() {
	s.monitor.Stop()

	s.mu.Lock()
	s.runCancel()
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	file := s.file
	s.file = nil
	s.mu.Unlock()

	if file != nil {
		s.revoke(file)
	}
	s.previews.Close()
}

// markReady is the monitor's OnReady callback. It fires once.
func (s *Session) markReady() {
	s.mu.Lock()
	s.ready = true
	s.available = true
	s.mu.Unlock()
	s.bus.Emit(events.SourceMonitor, events.KindReady, nil)
}

// setAvailable is the monitor's OnChange callback.
func (s *Session) setAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
	s.bus.Emit(events.SourceMonitor, events.KindAvailability, map[string]any{"available": available})
}

// Monitor exposes the availability monitor for status reporting.
func (s *Session) Monitor() *connwatch.Monitor {
	return s.monitor
}

// SelectFile stores a newly chosen local file and makes it the current
// one. The previous preview is released, and every piece of state that
// described the previous file is cleared. No type or size checks happen
// here; the backend decides what it accepts.
func (s *Session) SelectFile(name, contentType string, r io.Reader) error {
	h, err := s.previews.Create(name, contentType, r)
	if err != nil {
		return fmt.Errorf("select file: %w", err)
	}

	s.mu.Lock()
	old := s.file
	s.file = h
	s.generation++
	gen := s.generation
	s.upload = UploadState{}
	s.activeVideoID = ""
	s.search = SearchState{}
	s.summary = ""
	s.status = ""
	s.statusIsError = false
	s.notice = ""
	s.mu.Unlock()

	if old != nil {
		s.revoke(old)
	}

	s.logger.Info("file selected", "name", h.Name, "bytes", h.Size, "generation", gen)
	s.bus.Emit(events.SourceSession, events.KindFileSelected, map[string]any{
		"name":       h.Name,
		"bytes":      h.Size,
		"generation": gen,
	})
	return nil
}

// revoke releases a preview handle, logging rather than failing.
func (s *Session) revoke(h *preview.Handle) {
	if err := s.previews.Revoke(h.Token); err != nil {
		s.logger.Warn("preview release failed", "token", h.Token, "error", err)
	}
}

// Generation returns the current file-selection generation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CurrentPreview returns the handle of the selected file, or nil.
func (s *Session) CurrentPreview() *preview.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// View is a point-in-time copy of the session for rendering.
type View struct {
	Ready         bool
	Available     bool
	FileName      string
	FileSize      int64
	PreviewURL    string
	PreviewType   string
	Upload        UploadState
	ActiveVideoID string
	Query         string
	Search        SearchState
	Summary       string
	Status        string
	StatusIsError bool
	Notice        string
	CatalogSize   int
	Generation    uint64
}

// Uploading reports whether an upload is in flight.
func (v View) Uploading() bool { return v.Upload.Phase == PhaseInProgress }

// Searching reports whether a search is in flight.
func (v View) Searching() bool { return v.Search.Phase == PhaseInProgress }

// CanUpload reports whether the upload trigger should be enabled.
func (v View) CanUpload() bool { return v.FileName != "" && !v.Uploading() }

// ShowExport reports whether the subtitle download control is offered.
func (v View) ShowExport() bool {
	return v.ActiveVideoID != "" && v.Upload.Phase == PhaseSucceeded
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Ready:         s.ready,
		Available:     s.available,
		Upload:        s.upload,
		ActiveVideoID: s.activeVideoID,
		Query:         s.query,
		Search:        s.search,
		Summary:       s.summary,
		Status:        s.status,
		StatusIsError: s.statusIsError,
		Notice:        s.notice,
		CatalogSize:   len(s.catalog),
		Generation:    s.generation,
	}
	v.Search.Results = slices.Clone(s.search.Results)
	if s.file != nil {
		v.FileName = s.file.Name
		v.FileSize = s.file.Size
		v.PreviewURL = s.file.URL()
		v.PreviewType = s.file.ContentType
	}
	return v
}

// ClearNotice dismisses the current notice.
func (s *Session) ClearNotice() {
	s.mu.Lock()
	s.notice = ""
	s.mu.Unlock()
}

// Catalog returns the video list fetched at startup and whether the
// fetch has completed successfully.
func (s *Session) Catalog() ([]backend.Video, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.catalog), s.catalogLoaded
}

// loadCatalog fetches GET /videos/ once. Failures are logged only.
func (s *Session) loadCatalog(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, catalogLoadTimeout)
	defer cancel()

	videos, err := s.backend.ListVideos(ctx)
	if err != nil {
		s.logger.Warn("failed to load videos", "error", err)
		return
	}

	s.mu.Lock()
	s.catalog = videos
	s.catalogLoaded = true
	s.mu.Unlock()

	s.logger.Info("video catalog loaded", "videos", len(videos))
	s.bus.Emit(events.SourceSession, events.KindCatalogLoaded, map[string]any{"videos": len(videos)})
}

// failureText extracts the user-facing reason from a request error:
// the backend's detail when it sent one, the raw error text otherwise.
func failureText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}
