package chatserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrAvatarNotFound is returned when no avatar is stored for a user.
var ErrAvatarNotFound = errors.New("avatar not found")

// AvatarStore persists user avatars. Put stores the image; Open streams it
// back for backends the server serves itself. URL returns an externally
// reachable location when the backend serves content directly, in which case
// the HTTP handler redirects instead of streaming.
type AvatarStore interface {
	Put(ctx context.Context, username, contentType string, r io.Reader) error
	Open(ctx context.Context, username string) (io.ReadCloser, string, error)
	URL(ctx context.Context, username string) (string, bool)
}

// MemoryAvatars keeps avatars in process memory. It is the default backend
// for development and tests.
type MemoryAvatars struct {
	mu      sync.RWMutex
	avatars map[string]memoryAvatar
}

type memoryAvatar struct {
	data        []byte
	contentType string
}

func NewMemoryAvatars() *MemoryAvatars {
	return &MemoryAvatars{avatars: make(map[string]memoryAvatar)}
}

func (s *MemoryAvatars) Put(_ context.Context, username, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.avatars[username] = memoryAvatar{data: data, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryAvatars) Open(_ context.Context, username string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	a, ok := s.avatars[username]
	s.mu.RUnlock()
	if !ok {
		return nil, "", ErrAvatarNotFound
	}
	return io.NopCloser(bytes.NewReader(a.data)), a.contentType, nil
}

func (s *MemoryAvatars) URL(context.Context, string) (string, bool) { return "", false }
