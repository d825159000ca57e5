package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// MemoryStore keeps everything in process. It backs the "memory" driver and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.CacheEntry
	runs    map[string][]byte
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*model.CacheEntry),
		runs:    make(map[string][]byte),
	}
}

func (s *MemoryStore) GetEntry(_ context.Context, fingerprint string) (*model.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[fingerprint], nil
}

func (s *MemoryStore) PutEntry(_ context.Context, entry *model.CacheEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) DeleteEntry(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// SaveRun stores a JSON copy so later mutation of report is not visible.
func (s *MemoryStore) SaveRun(_ context.Context, report *model.IngestionReport) error {
	b, err := marshalReport(report)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.RunID] = b
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.IngestionReport, error) {
	s.mu.RLock()
	b, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrRunNotFound, "memory: get run %s", runID)
	}
	return unmarshalReport(b)
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.RunSummary, error) {
	s.mu.RLock()
	var out []model.RunSummary
	for _, b := range s.runs {
		r, err := unmarshalReport(b)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if filter.FailedOnly && !r.Failed {
			continue
		}
		out = append(out, r.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
