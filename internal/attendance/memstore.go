package attendance

import (
	"context"
	"sort"
	"sync"
)

type dayKey struct {
	roll int
	date string
}

// MemStore is a mutex-guarded in-memory Store for dev mode and tests.
type MemStore struct {
	mu      sync.Mutex
	records map[dayKey]Record
}

// NewMemStore creates an empty in-memory attendance store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[dayKey]Record)}
}

func cloneRecord(rec Record) Record {
	out := rec
	if rec.VerifiedAt != nil {
		t := *rec.VerifiedAt
		out.VerifiedAt = &t
	}
	out.AttemptHistory = append([]Attempt(nil), rec.AttemptHistory...)
	return out
}

func (m *MemStore) UpsertAttendanceRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[dayKey{rec.StudentRoll, rec.Date}] = cloneRecord(rec)
	return nil
}

func (m *MemStore) GetAttendanceRecord(_ context.Context, roll int, date string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[dayKey{roll, date}]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (m *MemStore) GetAttendanceRange(_ context.Context, roll int, start, end string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for key, rec := range m.records {
		// ISO dates compare correctly as strings.
		if key.roll == roll && key.date >= start && key.date <= end {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (m *MemStore) GetAttendanceImages(_ context.Context, roll, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	recs, err := m.GetAttendanceRange(context.Background(), roll, "0000-01-01", "9999-12-31")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range recs {
		if rec.ImageData != "" {
			out = append(out, rec.ImageData)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
