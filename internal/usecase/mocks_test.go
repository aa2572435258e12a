package usecase

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/markup"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/profile"
)

// MockFetcher serves canned outcomes by URL. Unknown URLs are not found.
type MockFetcher struct {
	mu       sync.Mutex
	outcomes map[string]domain.FetchOutcome
	calls    []string
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{outcomes: make(map[string]domain.FetchOutcome)}
}

func (m *MockFetcher) Page(url string, body []byte) *MockFetcher {
	return m.Outcome(url, domain.Success(body, 200))
}

func (m *MockFetcher) Outcome(url string, outcome domain.FetchOutcome) *MockFetcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[url] = outcome
	return m
}

func (m *MockFetcher) Fetch(ctx context.Context, req domain.FetchRequest) domain.FetchOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req.URL)
	if outcome, ok := m.outcomes[req.URL]; ok {
		return outcome
	}
	return domain.NotFound()
}

func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockFetcher) CallsTo(url string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == url {
			n++
		}
	}
	return n
}

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	mu       sync.Mutex
	data     map[string][]byte
	getError error
	setError error
	sets     int
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{data: make(map[string][]byte)}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

// MockRecordSink collects partition results
type MockRecordSink struct {
	mu       sync.Mutex
	results  []domain.PartitionResult
	writeErr error
}

func NewMockRecordSink() *MockRecordSink {
	return &MockRecordSink{}
}

func (m *MockRecordSink) Name() string { return "mock" }

func (m *MockRecordSink) Write(ctx context.Context, result domain.PartitionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.writeErr
}

func (m *MockRecordSink) Close() error { return nil }

func (m *MockRecordSink) Results() []domain.PartitionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PartitionResult(nil), m.results...)
}

// MockSnapshotStore keeps snapshots in memory
type MockSnapshotStore struct {
	snapshots map[string]domain.Snapshot
	loadErr   error
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{snapshots: make(map[string]domain.Snapshot)}
}

func (m *MockSnapshotStore) Load(ctx context.Context, partition string) (*domain.Snapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	s, ok := m.snapshots[partition]
	if !ok {
		return nil, domain.ErrSnapshotMissing
	}
	return &s, nil
}

func (m *MockSnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	m.snapshots[snapshot.Partition] = snapshot
	return nil
}

func (m *MockSnapshotStore) Close() error { return nil }

// MockHistoryRepository keeps the history in memory
type MockHistoryRepository struct {
	history domain.History
	saves   int
}

func NewMockHistoryRepository() *MockHistoryRepository {
	return &MockHistoryRepository{}
}

func (m *MockHistoryRepository) Load(ctx context.Context) (*domain.History, error) {
	h := domain.History{Entries: append([]domain.HistoryEntry(nil), m.history.Entries...)}
	return &h, nil
}

func (m *MockHistoryRepository) Save(ctx context.Context, history *domain.History) error {
	m.saves++
	m.history = *history
	return nil
}

func loadPartition(t *testing.T, name string) domain.Partition {
	t.Helper()
	p, err := profile.NewRegistry("").Profile(name)
	if err != nil {
		t.Fatalf("Failed to load profile %s: %v", name, err)
	}
	return domain.Partition{Name: name, Profile: p}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("Failed to read fixture %s: %v", name, err)
	}
	return data
}

func newExtractor() *CardExtractor {
	return NewCardExtractor(markup.NewParser())
}
