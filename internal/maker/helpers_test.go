package maker

import (
	"sync"
	"time"
)

type fakeSession struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakeSession(id string) *fakeSession { return &fakeSession{id: id} }

func (s *fakeSession) MakerID() string { return s.id }

func (s *fakeSession) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full || s.closed {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) Info() ConnInfo { return ConnInfo{MakerID: s.id} }

func (s *fakeSession) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recorded struct {
	kind string
	data map[string]any
}

type recordingSink struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *recordingSink) Record(kind string, data map[string]any) {
	r.mu.Lock()
	r.entries = append(r.entries, recorded{kind: kind, data: data})
	r.mu.Unlock()
}

func (r *recordingSink) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.entries...)
}

// manualTimers records scheduled callbacks so tests fire them explicitly.
type manualTimers struct {
	mu    sync.Mutex
	tasks []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (m *manualTimers) After(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.tasks = append(m.tasks, t)
	return t
}

// fireAll runs every task scheduled so far, including stopped ones, the
// way a real timer can fire just as Stop is called.
func (m *manualTimers) fireAll() {
	m.mu.Lock()
	tasks := append([]*manualTimer(nil), m.tasks...)
	m.mu.Unlock()
	for _, t := range tasks {
		t.f()
	}
}
