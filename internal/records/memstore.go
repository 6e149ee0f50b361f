package records

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemStore is a mutex-guarded in-memory Store for dev mode and tests.
// One lock spans all collections so multi-collection operations are
// atomic, mirroring the transaction boundary of the SQL repository.
type MemStore struct {
	mu       sync.Mutex
	students []Student
	snapshot *Snapshot
}

// NewMemStore creates an empty in-memory record store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func cloneStudent(st Student) Student {
	out := st
	out.Marks = st.Marks.Clone()
	if st.DeletedAt != nil {
		t := *st.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

func (m *MemStore) CreateStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append(m.students, cloneStudent(st))
	return nil
}

func (m *MemStore) GetStudents(_ context.Context, includeDeleted bool) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Student
	for _, st := range m.students {
		if includeDeleted || !st.IsDeleted {
			out = append(out, cloneStudent(st))
		}
	}
	return out, nil
}

func (m *MemStore) GetDeletedStudents(_ context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Student
	for _, st := range m.students {
		if st.IsDeleted {
			out = append(out, cloneStudent(st))
		}
	}
	return out, nil
}

func (m *MemStore) GetStudentByID(_ context.Context, id string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == id {
			st := cloneStudent(m.students[i])
			return &st, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetStudentByRoll(_ context.Context, roll int) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].Roll == roll && !m.students[i].IsDeleted {
			st := cloneStudent(m.students[i])
			return &st, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetStudentByFirstName(_ context.Context, first string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		st := &m.students[i]
		if st.IsDeleted {
			continue
		}
		tokens := strings.Fields(st.Name)
		if len(tokens) > 0 && strings.EqualFold(tokens[0], first) {
			out := cloneStudent(*st)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemStore) UpdateStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == st.ID {
			keep := m.students[i]
			updated := cloneStudent(st)
			// Deletion stamps and password are not mutable through update.
			updated.PasswordHash = keep.PasswordHash
			updated.IsDeleted = keep.IsDeleted
			updated.DeletedBy = keep.DeletedBy
			updated.DeletedAt = keep.DeletedAt
			m.students[i] = updated
			return nil
		}
	}
	return nil
}

func (m *MemStore) SoftDeleteStudent(_ context.Context, id, deletedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == id {
			m.students[i].IsDeleted = true
			m.students[i].DeletedBy = deletedBy
			t := at
			m.students[i].DeletedAt = &t
			return nil
		}
	}
	return nil
}

func (m *MemStore) RecoverStudent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == id {
			m.students[i].IsDeleted = false
			m.students[i].DeletedBy = ""
			m.students[i].DeletedAt = nil
			return nil
		}
	}
	return nil
}

func (m *MemStore) PermaDeleteStudent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == id && m.students[i].IsDeleted {
			m.students = append(m.students[:i], m.students[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemStore) ClearAll(_ context.Context, clearedBy string, at time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{ClearedBy: clearedBy, ClearedAt: at}
	for _, st := range m.students {
		if st.IsDeleted {
			snap.Graveyard = append(snap.Graveyard, cloneStudent(st))
		} else {
			snap.Students = append(snap.Students, cloneStudent(st))
		}
	}
	m.snapshot = &snap
	m.students = nil
	return snap, nil
}

func (m *MemStore) GetClearedSnapshot(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, nil
	}
	snap := *m.snapshot
	return &snap, nil
}

func (m *MemStore) RecoverAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil
	}
	for _, st := range m.snapshot.Students {
		m.students = append(m.students, cloneStudent(st))
	}
	for _, st := range m.snapshot.Graveyard {
		m.students = append(m.students, cloneStudent(st))
	}
	m.snapshot = nil
	return nil
}

func (m *MemStore) SetProfilePicture(_ context.Context, roll int, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].Roll == roll && !m.students[i].IsDeleted {
			m.students[i].ProfilePicture = data
			m.students[i].HasProfilePicture = true
			return nil
		}
	}
	return nil
}

func (m *MemStore) GetProfilePicture(_ context.Context, roll int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].Roll == roll && !m.students[i].IsDeleted {
			return m.students[i].ProfilePicture, m.students[i].HasProfilePicture, nil
		}
	}
	return "", false, nil
}
