package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/vidscout/internal/backend"
	"github.com/nugget/vidscout/internal/events"
)

// TopK is the number of results requested per search.
const TopK = 5

type searchTicket struct {
	gen     uint64
	videoID string
	query   string
}

// SetQuery records the search text as typed.
func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()
}

// Search queries the active video and blocks until the backend answers.
func (s *Session) Search(ctx context.Context) error {
	t, err := s.beginSearch()
	if err != nil {
		return err
	}
	return s.finishSearch(ctx, t)
}

// StartSearch validates synchronously and completes the request in the
// background, like StartUpload.
func (s *Session) StartSearch(ctx context.Context) error {
	t, err := s.beginSearch()
	if err != nil {
		return err
	}

	bg, cancel := s.detach(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_ = s.finishSearch(bg, t)
	}()
	return nil
}

// IsSearching reports whether a search is in flight.
func (s *Session) IsSearching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search.Phase == PhaseInProgress
}

func (s *Session) beginSearch() (searchTicket, error) {
	s.mu.Lock()
	if s.activeVideoID == "" || strings.TrimSpace(s.query) == "" {
		s.notice = msgNeedVideoQuery
		s.mu.Unlock()
		s.bus.Emit(events.SourceSearch, events.KindRejected, map[string]any{"reason": "missing_prerequisite"})
		return searchTicket{}, ErrMissingPrerequisite
	}
	if s.search.Phase == PhaseInProgress {
		s.mu.Unlock()
		return searchTicket{}, ErrSearchInProgress
	}

	// Previous results stay on screen until the new ones arrive.
	s.search = SearchState{Phase: PhaseInProgress, Results: s.search.Results}
	s.notice = ""
	t := searchTicket{gen: s.generation, videoID: s.activeVideoID, query: s.query}
	s.mu.Unlock()

	s.logger.Debug("search started", "video_id", t.videoID, "query", t.query)
	s.bus.Emit(events.SourceSearch, events.KindStarted, map[string]any{"video_id": t.videoID})
	return t, nil
}

func (s *Session) finishSearch(ctx context.Context, t searchTicket) error {
	results, err := s.backend.Search(ctx, backend.SearchRequest{
		VideoID: t.videoID,
		Query:   t.query,
		TopK:    TopK,
	})

	s.mu.Lock()
	if s.generation != t.gen {
		current := s.generation
		s.mu.Unlock()
		s.logger.Info("discarding stale search completion",
			"video_id", t.videoID,
			"issued_generation", t.gen,
			"current_generation", current,
		)
		s.bus.Emit(events.SourceSearch, events.KindDiscarded, map[string]any{"generation": t.gen})
		return ErrStaleCompletion
	}

	if err != nil {
		msg := failureText(err)
		s.search = SearchState{Phase: PhaseFailed, Message: msg}
		s.notice = fmt.Sprintf(msgSearchFailed, msg)
		s.mu.Unlock()

		s.logger.Warn("search failed", "video_id", t.videoID, "error", err)
		s.bus.Emit(events.SourceSearch, events.KindFailed, map[string]any{"message": msg})
		return err
	}

	s.search = SearchState{Phase: PhaseSucceeded, Results: results}
	s.mu.Unlock()

	s.logger.Info("search complete", "video_id", t.videoID, "results", len(results))
	s.bus.Emit(events.SourceSearch, events.KindSucceeded, map[string]any{
		"video_id": t.videoID,
		"results":  len(results),
	})
	return nil
}
