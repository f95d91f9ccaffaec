package session

import (
	"context"
	"fmt"

	"github.com/nugget/vidscout/internal/backend"
	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/preview"
)

// uploadTicket is what an upload request carries from issue to completion.
type uploadTicket struct {
	gen  uint64
	file *preview.Handle
}

// Upload sends the selected file to the backend for processing and
// blocks until it completes. Precondition failures return a sentinel
// error without touching the network.
func (s *Session) Upload(ctx context.Context) error {
	t, err := s.beginUpload()
	if err != nil {
		return err
	}
	return s.finishUpload(ctx, t)
}

// StartUpload validates and transitions to in-progress synchronously,
// then completes the request in the background. The background request
// keeps ctx's values but not its cancellation; it ends with OnStop.
func (s *Session) StartUpload(ctx context.Context) error {
	t, err := s.beginUpload()
	if err != nil {
		return err
	}

	bg, cancel := s.detach(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_ = s.finishUpload(bg, t)
	}()
	return nil
}

// IsUploading reports whether an upload is in flight.
func (s *Session) IsUploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload.Phase == PhaseInProgress
}

func (s *Session) beginUpload() (uploadTicket, error) {
	s.mu.Lock()
	if s.file == nil {
		s.status = msgSelectFirst
		s.statusIsError = true
		s.mu.Unlock()
		s.bus.Emit(events.SourceUpload, events.KindRejected, map[string]any{"reason": "no_file"})
		return uploadTicket{}, ErrNoFileSelected
	}
	if s.upload.Phase == PhaseInProgress {
		s.mu.Unlock()
		return uploadTicket{}, ErrUploadInProgress
	}

	s.upload = UploadState{Phase: PhaseInProgress}
	s.status = msgProcessing
	s.statusIsError = false
	t := uploadTicket{gen: s.generation, file: s.file}
	s.mu.Unlock()

	s.logger.Info("upload started", "name", t.file.Name, "bytes", t.file.Size, "generation", t.gen)
	s.bus.Emit(events.SourceUpload, events.KindStarted, map[string]any{
		"name":       t.file.Name,
		"generation": t.gen,
	})
	return t, nil
}

func (s *Session) finishUpload(ctx context.Context, t uploadTicket) error {
	f, err := t.file.Open()
	if err == nil {
		resp, upErr := s.backend.UploadVideo(ctx, t.file.Name, f)
		f.Close()
		return s.completeUpload(t, resp, upErr)
	}
	return s.completeUpload(t, nil, fmt.Errorf("open preview: %w", err))
}

func (s *Session) completeUpload(t uploadTicket, resp *backend.UploadResponse, err error) error {
	s.mu.Lock()
	if s.generation != t.gen {
		current := s.generation
		s.mu.Unlock()
		s.logger.Info("discarding stale upload completion",
			"name", t.file.Name,
			"issued_generation", t.gen,
			"current_generation", current,
		)
		s.bus.Emit(events.SourceUpload, events.KindDiscarded, map[string]any{"generation": t.gen})
		return ErrStaleCompletion
	}

	if err != nil {
		msg := failureText(err)
		s.upload = UploadState{Phase: PhaseFailed, Message: msg}
		s.status = fmt.Sprintf(msgUploadFailed, msg)
		s.statusIsError = true
		s.mu.Unlock()

		s.logger.Warn("upload failed", "name", t.file.Name, "error", err)
		s.bus.Emit(events.SourceUpload, events.KindFailed, map[string]any{"message": msg})
		return err
	}

	s.upload = UploadState{
		Phase:       PhaseSucceeded,
		VideoID:     resp.VideoID,
		Summary:     resp.Summary,
		TotalChunks: resp.TotalChunks,
	}
	s.activeVideoID = resp.VideoID
	s.summary = resp.Summary
	s.status = fmt.Sprintf(msgUploadOK, resp.TotalChunks)
	s.statusIsError = false
	s.mu.Unlock()

	s.logger.Info("upload processed",
		"video_id", resp.VideoID,
		"total_chunks", resp.TotalChunks,
	)
	s.bus.Emit(events.SourceUpload, events.KindSucceeded, map[string]any{
		"video_id":     resp.VideoID,
		"total_chunks": resp.TotalChunks,
	})
	return nil
}

// detach returns a context carrying ctx's values that is cancelled only
// when the session stops.
func (s *Session) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(runCtx, cancel)
	return bg, func() {
		stop()
		cancel()
	}
}
