package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type mockRepository struct {
	mu       sync.Mutex
	inserted []*Event
	visitors map[string]int
	failOn   map[uuid.UUID]bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		visitors: make(map[string]int),
		failOn:   make(map[uuid.UUID]bool),
	}
}

func (m *mockRepository) InsertEvent(_ context.Context, e *Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[e.ID] {
		return 0, errors.New("disk full")
	}
	m.inserted = append(m.inserted, e)
	return 1, nil
}

func (m *mockRepository) UpsertActiveVisitor(_ context.Context, fingerprint, _ string, _ *string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors[fingerprint]++
	return nil
}

func (m *mockRepository) insertedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, len(m.inserted))
	for i, e := range m.inserted {
		ids[i] = e.ID
	}
	return ids
}

type mockPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *mockPublisher) SendMessage(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

// manualTimer records armed callbacks so tests decide when a timer fires.
type manualTimer struct {
	mu      sync.Mutex
	pending []*manualHandle
	armed   int
}

type manualHandle struct {
	fn      func()
	stopped bool
}

func (h *manualHandle) Stop() bool {
	wasActive := !h.stopped
	h.stopped = true
	return wasActive
}

func (m *manualTimer) afterFunc(_ time.Duration, f func()) stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &manualHandle{fn: f}
	m.pending = append(m.pending, h)
	m.armed++
	return h
}

// fire runs the oldest armed callback, even if it was stopped, like a timer racing Stop.
func (m *manualTimer) fire() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	h := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	h.fn()
	return true
}

func newTestBuffer(repo Repository, opts ...BufferOption) (*Buffer, *manualTimer) {
	b := NewBuffer(repo, 5*time.Second, zap.NewNop(), opts...)
	timer := &manualTimer{}
	b.afterFunc = timer.afterFunc
	return b, timer
}

func testEvent(fp string) *Event {
	return &Event{
		ID:          uuid.New(),
		Timestamp:   time.Now().UnixMilli(),
		PagePath:    "/a",
		Fingerprint: fp,
		EventName:   PageviewEventName,
		CreatedAt:   time.Now(),
	}
}

func TestBuffer_ArmsSingleTimer(t *testing.T) {
	repo := newMockRepository()
	b, timer := newTestBuffer(repo)

	for i := 0; i < 5; i++ {
		b.Enqueue(testEvent("fp"))
	}

	if timer.armed != 1 {
		t.Fatalf("armed %d timers, want 1", timer.armed)
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
	if len(repo.insertedIDs()) != 0 {
		t.Fatal("nothing should be persisted before the timer fires")
	}

	timer.fire()

	if got := len(repo.insertedIDs()); got != 5 {
		t.Fatalf("persisted %d events, want 5", got)
	}
	if b.Len() != 0 {
		t.Errorf("buffer should be empty after flush, Len = %d", b.Len())
	}
}

func TestBuffer_RearmsAfterFiring(t *testing.T) {
	repo := newMockRepository()
	b, timer := newTestBuffer(repo)

	b.Enqueue(testEvent("a"))
	timer.fire()
	b.Enqueue(testEvent("b"))
	b.Enqueue(testEvent("c"))

	if timer.armed != 2 {
		t.Fatalf("armed %d timers, want 2", timer.armed)
	}
	timer.fire()

	if got := len(repo.insertedIDs()); got != 3 {
		t.Fatalf("persisted %d events, want 3", got)
	}
}

func TestBuffer_PreservesOrder(t *testing.T) {
	repo := newMockRepository()
	b, timer := newTestBuffer(repo)

	var want []uuid.UUID
	for i := 0; i < 10; i++ {
		e := testEvent(fmt.Sprintf("fp-%d", i))
		want = append(want, e.ID)
		b.Enqueue(e)
		if i == 4 {
			timer.fire()
		}
	}
	b.Flush(context.Background())

	got := repo.insertedIDs()
	if len(got) != len(want) {
		t.Fatalf("persisted %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d out of order", i)
		}
	}
}

func TestBuffer_FailureDoesNotBlockBatch(t *testing.T) {
	repo := newMockRepository()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b, timer := newTestBuffer(repo, WithMetrics(m))

	first, broken, last := testEvent("a"), testEvent("b"), testEvent("c")
	repo.failOn[broken.ID] = true

	b.Enqueue(first)
	b.Enqueue(broken)
	b.Enqueue(last)
	timer.fire()

	got := repo.insertedIDs()
	if len(got) != 2 || got[0] != first.ID || got[1] != last.ID {
		t.Fatalf("persisted %v, want the first and last events", got)
	}
	if _, ok := repo.visitors["b"]; ok {
		t.Error("failed event should not update active visitors")
	}
	if b.Len() != 0 {
		t.Error("failed events must not be requeued")
	}

	timer.fire()
	if len(repo.insertedIDs()) != 2 {
		t.Error("failed event was retried")
	}

	expected := `
# HELP beacon_events_failed_total Events dropped because the storage write failed
# TYPE beacon_events_failed_total counter
beacon_events_failed_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "beacon_events_failed_total"); err != nil {
		t.Error(err)
	}
}

func TestBuffer_ForcedFlush(t *testing.T) {
	repo := newMockRepository()
	b, timer := newTestBuffer(repo)

	b.Enqueue(testEvent("a"))
	b.Enqueue(testEvent("a"))

	if n := b.Flush(context.Background()); n != 2 {
		t.Fatalf("Flush stored %d, want 2", n)
	}
	if repo.visitors["a"] != 2 {
		t.Errorf("active visitor upserts = %d, want 2", repo.visitors["a"])
	}

	// The timer armed before the forced flush fires late and must not sweep new events.
	b.Enqueue(testEvent("b"))
	timer.fire()
	if b.Len() != 1 {
		t.Fatalf("stale timer swept the buffer, Len = %d", b.Len())
	}

	timer.fire()
	if b.Len() != 0 || len(repo.insertedIDs()) != 3 {
		t.Errorf("expected the fresh timer to flush, Len=%d persisted=%d", b.Len(), len(repo.insertedIDs()))
	}
}

func TestBuffer_FlushEmpty(t *testing.T) {
	b, timer := newTestBuffer(newMockRepository())
	if n := b.Flush(context.Background()); n != 0 {
		t.Errorf("Flush on empty buffer stored %d", n)
	}
	if timer.armed != 0 {
		t.Error("empty flush should not arm a timer")
	}
}

func TestBuffer_PublishesPersistedEvents(t *testing.T) {
	repo := newMockRepository()
	pub := &mockPublisher{err: errors.New("broker down")}
	b, _ := newTestBuffer(repo, WithPublisher(pub))

	b.Enqueue(testEvent("fp-1"))
	b.Enqueue(testEvent("fp-2"))
	b.Flush(context.Background())

	if len(pub.keys) != 2 || pub.keys[0] != "fp-1" || pub.keys[1] != "fp-2" {
		t.Errorf("published keys = %v", pub.keys)
	}
	if len(repo.insertedIDs()) != 2 {
		t.Error("publish failures must not affect persistence")
	}
}

func TestBuffer_RealTimer(t *testing.T) {
	repo := newMockRepository()
	b := NewBuffer(repo, 10*time.Millisecond, zap.NewNop())

	b.Enqueue(testEvent("a"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(repo.insertedIDs()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timer did not flush the buffer")
}
