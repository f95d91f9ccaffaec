package backend

import "encoding/json"

// Chunk is a contiguous, transcribed time segment of a video.
type Chunk struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Result is one ranked search hit. The backend returns results ordered by
// descending relevance and callers must preserve that order.
type Result struct {
	Chunk           Chunk   `json:"chunk"`
	SimilarityScore float64 `json:"similarity_score"`
}

// UploadResponse is the body of a successful upload-and-process call.
type UploadResponse struct {
	VideoID     string `json:"video_id"`
	TotalChunks int    `json:"total_chunks"`
	Summary     string `json:"summary,omitempty"`
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	VideoID string `json:"video_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
}

// Video is one entry in the backend's video catalog. The catalog schema
// is owned by the backend; only the identifier is relied on here and
// the remaining fields are kept raw.
type Video struct {
	VideoID  string         `json:"video_id"`
	Filename string         `json:"filename,omitempty"`
	Extra    map[string]any `json:"-"`
}

// UnmarshalJSON keeps every catalog field in Extra and lifts the known
// ones into typed fields.
func (v *Video) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	v.Extra = m
	if s, ok := m["video_id"].(string); ok {
		v.VideoID = s
	}
	if s, ok := m["filename"].(string); ok {
		v.Filename = s
	}
	return nil
}
