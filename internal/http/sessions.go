package http

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sessionTracker follows hijacked chat connections, which http.Server.Shutdown
// neither closes nor waits for.
type sessionTracker struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]context.CancelFunc
	closing  bool
	wg       sync.WaitGroup
	drained  chan struct{}
	drainOne sync.Once
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		conns:   make(map[*websocket.Conn]context.CancelFunc),
		drained: make(chan struct{}),
	}
}

// add registers a live session. It returns false once shutdown has begun.
func (t *sessionTracker) add(conn *websocket.Conn, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.conns[conn] = cancel
	t.wg.Add(1)
	return true
}

// done is called after the session's cleanup has finished.
func (t *sessionTracker) done(conn *websocket.Conn) {
	t.mu.Lock()
	_, ok := t.conns[conn]
	delete(t.conns, conn)
	t.mu.Unlock()
	if ok {
		t.wg.Done()
	}
}

// closeAll cancels every session and unblocks its reader so the handler's
// cleanup runs. It does not wait; see wait.
func (t *sessionTracker) closeAll() {
	t.mu.Lock()
	t.closing = true
	for conn, cancel := range t.conns {
		cancel()
		_ = conn.SetReadDeadline(time.Now())
	}
	t.mu.Unlock()
}

// wait blocks until every session has finished its cleanup or ctx ends.
func (t *sessionTracker) wait(ctx context.Context) error {
	t.drainOne.Do(func() {
		go func() {
			t.wg.Wait()
			close(t.drained)
		}()
	})
	select {
	case <-t.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sessionTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
