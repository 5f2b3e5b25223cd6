package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Session owns at most one open document at a time and the epoch counter
// that fences its engines. Opening a document tears the previous engine down
// first — flushing its cache write and cancelling its timers and in-flight
// requests — then constructs a fresh engine under the next epoch. A slow
// network response belonging to the abandoned document therefore lands in a
// dead run loop and is discarded, never applied to the newly opened one.
type Session struct {
	deps Deps
	cfg  Config
	log  *zap.Logger

	epoch atomic.Int64

	mu      sync.Mutex
	current *Engine
	closed  bool
}

// NewSession creates a session. The same Deps are shared by every engine the
// session opens.
func NewSession(deps Deps, cfg Config) *Session {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Session{deps: deps, cfg: cfg, log: deps.Log}
}

// Open switches the session to a document. Any previously open document is
// flushed and closed before the new engine starts hydrating.
func (s *Session) Open(ctx context.Context, documentID string) (*Engine, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if s.current != nil {
		if err := s.current.Close(); err != nil {
			s.log.Warn("closing previous document", zap.Error(err))
		}
		s.current = nil
	}

	epoch := s.epoch.Add(1)
	e := New(documentID, epoch, s.deps, s.cfg)
	if err := e.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine for %s: %w", documentID, err)
	}

	s.current = e
	return e, nil
}

// Current returns the open engine, or nil if no document is open.
func (s *Session) Current() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Epoch returns the current session epoch.
func (s *Session) Epoch() int64 {
	return s.epoch.Load()
}

// Hide flushes the open document's pending cache write. Called when the host
// view becomes hidden, where a pending debounce timer would otherwise be
// lost.
func (s *Session) Hide(ctx context.Context) error {
	e := s.Current()
	if e == nil {
		return nil
	}
	return e.Flush(ctx)
}

// Resume signals regained connectivity or foregrounding to the open
// document.
func (s *Session) Resume() {
	if e := s.Current(); e != nil {
		e.Resume()
	}
}

// Close flushes and closes the open document. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
