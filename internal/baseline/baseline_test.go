package baseline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type mockStore struct {
	posts []model.CandidatePost
	err   error
	calls atomic.Int32
	last  PostQuery
	mu    sync.Mutex
	delay time.Duration
}

func (m *mockStore) ListPosts(_ context.Context, q PostQuery) ([]model.CandidatePost, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = q
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.posts, m.err
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]*model.UserBaselines
	getErr  error
	setErr  error
	sets    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string]*model.UserBaselines{}}
}

func key(userID string, window int) string {
	return fmt.Sprintf("%s:%d", userID, window)
}

func (m *mockCache) Get(_ context.Context, userID string, window int) (*model.UserBaselines, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entries[key(userID, window)], nil
}

func (m *mockCache) Set(_ context.Context, userID string, b *model.UserBaselines, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key(userID, b.WindowDays)] = b
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	lookups map[string]int
	timings int
}

func (o *countingObserver) CacheLookup(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lookups == nil {
		o.lookups = map[string]int{}
	}
	o.lookups[result]++
}

func (o *countingObserver) BaselineComputed(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timings++
}

func post(id string, formats []string, stats model.PostStats) model.CandidatePost {
	return model.CandidatePost{ID: id, PostedAt: testNow.AddDate(0, 0, -3), Formats: formats, Stats: &stats}
}

func samplePosts() []model.CandidatePost {
	return []model.CandidatePost{
		post("a", []string{"reel"}, model.PostStats{TotalInteractions: model.Float(100), Reach: model.Float(2000)}),
		post("b", []string{"reel"}, model.PostStats{TotalInteractions: model.Float(300), Reach: model.Float(3000)}),
		post("c", []string{"carrossel"}, model.PostStats{Likes: model.Float(40), Comments: model.Float(10)}),
		post("d", []string{"reel", "Reel"}, model.PostStats{TotalInteractions: model.Float(200), EngagementRate: model.Float(0.08)}),
	}
}

func TestFromPostsMedians(t *testing.T) {
	b := FromPosts(samplePosts(), 90, testNow)

	if b.SampleSize != 4 {
		t.Errorf("expected sample size 4, got %d", b.SampleSize)
	}
	// interactions: 100, 300, 50, 200
	if b.MedianInteractions != 150 {
		t.Errorf("expected median interactions 150, got %v", b.MedianInteractions)
	}
	// rates: 0.05, 0.1, 0.08 (post c has no reach and no stored rate)
	if b.MedianEngagementRate != 0.08 {
		t.Errorf("expected median ER 0.08, got %v", b.MedianEngagementRate)
	}
	if b.MedianReach != 2500 {
		t.Errorf("expected median reach 2500, got %v", b.MedianReach)
	}

	reel, ok := b.PerFormat["reel"]
	if !ok {
		t.Fatal("expected a reel baseline")
	}
	if reel.SampleSize != 3 || reel.MedianInteractions != 200 {
		t.Errorf("unexpected reel baseline %+v", reel)
	}
	if c := b.PerFormat["carrossel"]; c.SampleSize != 1 || c.MedianEngagementRate != 0 {
		t.Errorf("unexpected carrossel baseline %+v", c)
	}
	if !b.ComputedAt.Equal(testNow) || b.WindowDays != 90 {
		t.Errorf("unexpected snapshot metadata %+v", b)
	}
}

func TestFromPostsEmpty(t *testing.T) {
	b := FromPosts(nil, 30, testNow)
	if b.HasData() || b.MedianInteractions != 0 || b.MedianEngagementRate != 0 {
		t.Errorf("expected all-zero baseline, got %+v", b)
	}
	if b.PerFormat == nil {
		t.Error("expected non-nil per-format map")
	}
}

func TestFromPostsNilStats(t *testing.T) {
	posts := []model.CandidatePost{{ID: "x", Formats: []string{"foto"}}}
	b := FromPosts(posts, 90, testNow)
	if b.SampleSize != 1 || b.MedianInteractions != 0 {
		t.Errorf("nil stats should count as zeros, got %+v", b)
	}
}

func TestComputeQueriesWindow(t *testing.T) {
	store := &mockStore{posts: samplePosts()}
	calc := NewCalculator(store, nil, DefaultOptions(), quietLogger())

	if _, err := calc.Compute(context.Background(), "u1", 60, testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := store.last
	if q.UserID != "u1" || q.Limit != 600 {
		t.Errorf("unexpected query %+v", q)
	}
	if !q.Until.Equal(testNow) || !q.Since.Equal(testNow.AddDate(0, 0, -60)) {
		t.Errorf("unexpected window %v..%v", q.Since, q.Until)
	}
}

func TestComputeUsesCache(t *testing.T) {
	store := &mockStore{posts: samplePosts()}
	cache := newMockCache()
	obs := &countingObserver{}
	calc := NewCalculator(store, cache, DefaultOptions(), quietLogger()).WithObserver(obs)

	first, err := calc.Compute(context.Background(), "u1", 90, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := calc.Compute(context.Background(), "u1", 90, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.calls.Load() != 1 {
		t.Errorf("expected one store call, got %d", store.calls.Load())
	}
	if first.MedianInteractions != second.MedianInteractions {
		t.Error("cached snapshot differs from computed one")
	}
	if obs.lookups[LookupMiss] != 1 || obs.lookups[LookupHit] != 1 || obs.timings != 1 {
		t.Errorf("unexpected observations %+v timings=%d", obs.lookups, obs.timings)
	}
}

func TestComputeCachesEmptyBaseline(t *testing.T) {
	store := &mockStore{}
	cache := newMockCache()
	calc := NewCalculator(store, cache, DefaultOptions(), quietLogger())

	b, err := calc.Compute(context.Background(), "new-user", 90, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.HasData() {
		t.Error("expected empty baseline")
	}
	if cache.sets != 1 {
		t.Errorf("expected empty baseline to be cached, got %d sets", cache.sets)
	}
}

func TestComputeCacheFailuresAreMisses(t *testing.T) {
	store := &mockStore{posts: samplePosts()}
	cache := newMockCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	obs := &countingObserver{}
	calc := NewCalculator(store, cache, DefaultOptions(), quietLogger()).WithObserver(obs)

	b, err := calc.Compute(context.Background(), "u1", 90, testNow)
	if err != nil {
		t.Fatalf("cache failure should not fail the computation: %v", err)
	}
	if b.SampleSize != 4 {
		t.Errorf("expected computed baseline, got %+v", b)
	}
	if obs.lookups[LookupError] != 1 {
		t.Errorf("expected an error lookup, got %+v", obs.lookups)
	}
}

func TestComputeStoreErrorPropagates(t *testing.T) {
	store := &mockStore{err: errors.New("disk full")}
	calc := NewCalculator(store, nil, DefaultOptions(), quietLogger())
	if _, err := calc.Compute(context.Background(), "u1", 90, testNow); err == nil {
		t.Fatal("expected store error")
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	calc := NewCalculator(&mockStore{}, nil, DefaultOptions(), quietLogger())
	if _, err := calc.Compute(context.Background(), "", 90, testNow); err == nil {
		t.Error("expected error for empty user")
	}
	if _, err := calc.Compute(context.Background(), "u1", 0, testNow); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestComputeDeduplicatesConcurrentCalls(t *testing.T) {
	store := &mockStore{posts: samplePosts(), delay: 50 * time.Millisecond}
	calc := NewCalculator(store, nil, DefaultOptions(), quietLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := calc.Compute(context.Background(), "u1", 90, testNow); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := store.calls.Load(); n >= 8 {
		t.Errorf("expected concurrent calls to share work, got %d store calls", n)
	}
}

func TestComputeUsesClockWhenNowIsZero(t *testing.T) {
	store := &mockStore{}
	calc := NewCalculator(store, nil, DefaultOptions(), quietLogger()).WithClock(func() time.Time { return testNow })
	b, err := calc.Compute(context.Background(), "u1", 30, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.ComputedAt.Equal(testNow) {
		t.Errorf("expected clock time, got %v", b.ComputedAt)
	}
}
