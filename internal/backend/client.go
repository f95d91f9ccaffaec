// Package backend is the HTTP client for the video semantic-search
// service. It covers the five endpoints the UI depends on: liveness,
// upload-and-process, search, subtitle export, and the video catalog.
//
// Non-2xx responses come back as *APIError carrying the backend's detail
// message. Transport failures (no response at all) are returned wrapped
// with the operation name and never as *APIError, so callers can tell the
// two apart with errors.As.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/vidscout/internal/httpkit"
)

// errorBodyLimit caps how much of an error response is read.
const errorBodyLimit = 64 * 1024

// maxSubtitleBytes caps a subtitle download held in memory.
const maxSubtitleBytes = 32 << 20

// Options configures a Client.
type Options struct {
	// Timeout bounds health, search, catalog, and subtitle requests.
	Timeout time.Duration
	// UploadTimeout bounds the upload request. Zero means no limit.
	UploadTimeout time.Duration
	Logger        *slog.Logger
}

// Client talks to one backend instance.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a backend client rooted at baseURL
// (e.g. "http://localhost:8000").
func NewClient(baseURL string, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		// The backend transcribes and embeds before answering, so the
		// upload waits on headers for as long as processing takes.
		uploadClient: httpkit.NewClient(
			httpkit.WithTimeout(opts.UploadTimeout),
			httpkit.WithResponseHeaderTimeout(0),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Health probes GET /health/. Any 2xx is healthy; the body is ignored.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/", nil)
	if err != nil {
		return fmt.Errorf("backend: health: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: health: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: "health", StatusCode: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// UploadVideo streams r to POST /upload-video/ as the multipart field
// "file" and waits for processing to finish.
func (c *Client) UploadVideo(ctx context.Context, filename string, r io.Reader) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-video/", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("backend: upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.uploadClient.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("backend: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("upload", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, errorBodyLimit))
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("backend: upload: decode response: %w", err)
	}
	if out.VideoID == "" {
		return nil, fmt.Errorf("backend: upload: response missing video_id")
	}

	c.logger.Debug("upload processed",
		"video_id", out.VideoID,
		"total_chunks", out.TotalChunks,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return &out, nil
}

// Search posts a query to /search/ and returns results in backend order.
func (c *Client) Search(ctx context.Context, sr SearchRequest) ([]Result, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("backend: search: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Log(ctx, slog.Level(-8), "search request", "body", string(body)) // config.LevelTrace

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("search", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, errorBodyLimit))
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("backend: search: decode response: %w", err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// DownloadSRT fetches the generated subtitle file for videoID.
func (c *Client) DownloadSRT(ctx context.Context, videoID string) ([]byte, error) {
	reqURL := c.baseURL + "/download-srt/" + url.PathEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: download-srt: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: download-srt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("download-srt", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, errorBodyLimit))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSubtitleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("backend: download-srt: read body: %w", err)
	}
	if len(data) > maxSubtitleBytes {
		return nil, fmt.Errorf("backend: download-srt: payload exceeds %d bytes", maxSubtitleBytes)
	}
	return data, nil
}

// ListVideos fetches the backend's video catalog from GET /videos/.
func (c *Client) ListVideos(ctx context.Context) ([]Video, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: videos: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: videos: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("videos", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, errorBodyLimit))
	}

	var videos []Video
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return nil, fmt.Errorf("backend: videos: decode response: %w", err)
	}
	return videos, nil
}
