package session

import (
	"fmt"
	"math"
	"strconv"

	"github.com/nugget/vidscout/internal/events"
)

// Player is the playback surface that renders the selected file.
type Player interface {
	Seek(seconds float64) error
	Play() error
}

// AttachPlayer makes p the surface JumpTo drives, replacing any other.
func (s *Session) AttachPlayer(p Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// DetachPlayer removes p if it is the attached surface.
func (s *Session) DetachPlayer(p Player) {
	s.mu.Lock()
	if s.player == p {
		s.player = nil
	}
	s.mu.Unlock()
}

// JumpTo seeks the attached player to seconds and resumes playback.
// With no player attached it does nothing.
func (s *Session) JumpTo(seconds float64) error {
	s.mu.Lock()
	p := s.player
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.Seek(seconds); err != nil {
		return fmt.Errorf("seek to %.3f: %w", seconds, err)
	}
	if err := p.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	s.bus.Emit(events.SourcePlayback, events.KindSeek, map[string]any{"seconds": seconds})
	return nil
}

// FormatTime renders seconds as M:SS. Minutes are not folded into
// hours, so 3725s is "62:05". Negative and NaN inputs render as 0:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	m := int64(math.Floor(seconds / 60))
	sec := int64(math.Floor(math.Mod(seconds, 60)))
	return fmt.Sprintf("%d:%02d", m, sec)
}

// FormatScore renders a similarity score in [0,1] as a percentage with
// one decimal, e.g. 0.91 becomes "91.0%".
func FormatScore(score float64) string {
	return strconv.FormatFloat(score*100, 'f', 1, 64) + "%"
}
