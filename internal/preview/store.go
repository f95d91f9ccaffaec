// Package preview holds locally selected video files and hands out
// playback URLs for them, the server-side counterpart of browser object
// URLs. Each handle owns one temp file; revoking the handle deletes the
// file, and a handle can be revoked exactly once.
package preview

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// URLPrefix is the path under which preview handles are served.
const URLPrefix = "/media/"

// ErrRevoked is returned when a token is unknown or already revoked.
var ErrRevoked = errors.New("preview: handle revoked")

// Handle is one selected file. It is immutable once created.
type Handle struct {
	Token       string
	Name        string
	ContentType string
	Size        int64
	Path        string
}

// URL returns the local playback URL for the handle.
func (h *Handle) URL() string {
	return URLPrefix + h.Token
}

// Open opens the backing file for reading.
func (h *Handle) Open() (*os.File, error) {
	return os.Open(h.Path)
}

// Store tracks live handles under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	live    map[string]*Handle
	revoked int
}

// NewStore creates the directory if needed and returns an empty store.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("preview: create dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		live:   make(map[string]*Handle),
	}, nil
}

// Create copies r into a new temp file and registers a handle for it.
// Partial files are removed when the copy fails.
func (s *Store) Create(name, contentType string, r io.Reader) (*Handle, error) {
	token := uuid.NewString()

	f, err := os.CreateTemp(s.dir, "preview-*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("preview: create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("preview: write %s: %w", name, err)
	}

	h := &Handle{
		Token:       token,
		Name:        filepath.Base(name),
		ContentType: contentType,
		Size:        n,
		Path:        f.Name(),
	}

	s.mu.Lock()
	s.live[token] = h
	s.mu.Unlock()

	s.logger.Debug("preview created", "token", token, "name", h.Name, "bytes", n)
	return h, nil
}

// Get returns the live handle for token.
func (s *Store) Get(token string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.live[token]
	if !ok {
		return nil, ErrRevoked
	}
	return h, nil
}

// Revoke releases the handle and deletes its file. A second call for
// the same token returns ErrRevoked.
func (s *Store) Revoke(token string) error {
	s.mu.Lock()
	h, ok := s.live[token]
	if ok {
		delete(s.live, token)
		s.revoked++
	}
	s.mu.Unlock()

	if !ok {
		return ErrRevoked
	}

	if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("preview file removal failed", "token", token, "path", h.Path, "error", err)
	}
	s.logger.Debug("preview revoked", "token", token, "name", h.Name)
	return nil
}

// Live returns the number of handles not yet revoked.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Revoked returns the number of successful revocations so far.
func (s *Store) Revoked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked
}

// Close revokes every live handle.
func (s *Store) Close() error {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.live))
	for t := range s.live {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	for _, t := range tokens {
		_ = s.Revoke(t)
	}
	return nil
}
