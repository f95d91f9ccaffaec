package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/vidscout/internal/backend"
	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/media"
)

// Subtitles is a downloaded subtitle file ready to hand to the user.
type Subtitles struct {
	VideoID  string
	Filename string
	Data     []byte
	Cues     int
}

// DownloadSubtitles fetches the generated SRT for the active video.
// The payload is returned to the caller and not retained.
func (s *Session) DownloadSubtitles(ctx context.Context) (*Subtitles, error) {
	s.mu.Lock()
	videoID := s.activeVideoID
	if videoID == "" {
		s.notice = msgNoVideoID
		s.mu.Unlock()
		s.bus.Emit(events.SourceExport, events.KindRejected, map[string]any{"reason": "no_video"})
		return nil, ErrNoActiveVideo
	}
	s.mu.Unlock()

	data, err := s.backend.DownloadSRT(ctx, videoID)
	if err != nil {
		var apiErr *backend.APIError
		var notice string
		if errors.As(err, &apiErr) {
			notice = fmt.Sprintf(msgSRTFailed, apiErr.Detail)
		} else {
			notice = fmt.Sprintf(msgDownloadFailed, err.Error())
		}

		s.mu.Lock()
		s.notice = notice
		s.mu.Unlock()

		s.logger.Warn("subtitle download failed", "video_id", videoID, "error", err)
		s.bus.Emit(events.SourceExport, events.KindFailed, map[string]any{"video_id": videoID})
		return nil, err
	}

	cues := len(media.ParseSRT(string(data)))
	if cues == 0 {
		s.logger.Warn("subtitle file has no parseable cues", "video_id", videoID, "bytes", len(data))
	}

	s.logger.Info("subtitles downloaded", "video_id", videoID, "bytes", len(data), "cues", cues)
	s.bus.Emit(events.SourceExport, events.KindSucceeded, map[string]any{
		"video_id": videoID,
		"cues":     cues,
	})
	return &Subtitles{
		VideoID:  videoID,
		Filename: videoID + ".srt",
		Data:     data,
		Cues:     cues,
	}, nil
}
