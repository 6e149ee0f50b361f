package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"schoolbook/internal/apperr"
	"schoolbook/internal/audit"
)

// DefaultStudentPassword is assigned when a student is added without one.
const DefaultStudentPassword = "student123"

// Snapshot is the single cleared snapshot taken by a bulk clear. At most
// one exists; a later clear overwrites an unconsumed one.
type Snapshot struct {
	Students  []Student `json:"students"`
	Graveyard []Student `json:"deleted_students"`
	ClearedBy string    `json:"clearedBy"`
	ClearedAt time.Time `json:"clearedAt"`
}

// Store is the persistence collaborator for student records. ClearAll and
// RecoverAll must be atomic with respect to both collections and the
// snapshot; implementations use a transaction or an equivalent lock.
type Store interface {
	CreateStudent(ctx context.Context, st Student) error
	GetStudents(ctx context.Context, includeDeleted bool) ([]Student, error)
	GetDeletedStudents(ctx context.Context) ([]Student, error)
	GetStudentByID(ctx context.Context, id string) (*Student, error)
	GetStudentByRoll(ctx context.Context, roll int) (*Student, error)
	GetStudentByFirstName(ctx context.Context, first string) (*Student, error)
	UpdateStudent(ctx context.Context, st Student) error
	SoftDeleteStudent(ctx context.Context, id, deletedBy string, at time.Time) error
	RecoverStudent(ctx context.Context, id string) error
	PermaDeleteStudent(ctx context.Context, id string) error
	ClearAll(ctx context.Context, clearedBy string, at time.Time) (Snapshot, error)
	GetClearedSnapshot(ctx context.Context) (*Snapshot, error)
	RecoverAll(ctx context.Context) error
	SetProfilePicture(ctx context.Context, roll int, data string) error
	GetProfilePicture(ctx context.Context, roll int) (string, bool, error)
}

// StudentInput carries the mutable fields of a student.
type StudentInput struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Class          string `json:"class"`
	Roll           int    `json:"roll"`
	Password       string `json:"password,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	Marks          Marks  `json:"marks"`
}

// Service owns the roster, graveyard and cleared snapshot, and enforces
// the permission and existence rules on every mutation.
type Service struct {
	store Store
	log   *audit.Service
}

// NewService creates a record service that audits every mutation.
func NewService(store Store, log *audit.Service) *Service {
	return &Service{store: store, log: log}
}

type studentPayload struct {
	Student Student `json:"student"`
}

type editPayload struct {
	Student         Student `json:"student"`
	OriginalStudent Student `json:"original_student"`
}

type marksPayload struct {
	Student       Student `json:"student"`
	OriginalMarks Marks   `json:"original_marks"`
	UpdatedMarks  Marks   `json:"updated_marks"`
}

func (in StudentInput) validate() error {
	if in.Name == "" {
		return apperr.Validation("name is required")
	}
	if in.Age <= 0 {
		return apperr.Validation("age must be positive")
	}
	if !ValidClass(in.Class) {
		return apperr.Validation("class must be one of K-12")
	}
	if in.Roll <= 0 {
		return apperr.Validation("roll number must be positive")
	}
	for subject, mark := range in.Marks {
		if mark != nil && (*mark < 0 || *mark > 100) {
			return apperr.Validation("invalid marks for %s, must be between 0-100", subject)
		}
	}
	return nil
}

// AddStudent creates a roster record. The roll number must be unique
// among non-deleted students; a deleted roll may be reused.
func (s *Service) AddStudent(ctx context.Context, in StudentInput, actor audit.Actor) (Student, error) {
	if err := in.validate(); err != nil {
		return Student{}, err
	}
	if existing, err := s.store.GetStudentByRoll(ctx, in.Roll); err != nil {
		return Student{}, err
	} else if existing != nil {
		return Student{}, apperr.Conflict("student with roll %d already exists", in.Roll)
	}

	password := in.Password
	if password == "" {
		password = DefaultStudentPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Student{}, err
	}

	st := Student{
		ID:                uuid.NewString(),
		Name:              in.Name,
		Age:               in.Age,
		Class:             in.Class,
		Roll:              in.Roll,
		Marks:             in.Marks.Normalize(),
		ProfilePicture:    in.ProfilePicture,
		HasProfilePicture: in.ProfilePicture != "",
		PasswordHash:      string(hash),
		AddedBy:           actor.Role,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return Student{}, err
	}
	if _, err := s.log.Record(ctx, audit.ActionAdd, actor, studentPayload{Student: st}); err != nil {
		return Student{}, err
	}
	return st, nil
}

// canMutate is the uniform rule for edit and delete: the principal may act
// on any record, a teacher only on records tagged as teacher-added.
func canMutate(st *Student, actor audit.Actor) bool {
	if actor.Role == audit.RolePrincipal {
		return true
	}
	return actor.Role == audit.RoleTeacher && st.AddedBy == audit.RoleTeacher
}

// canTouchDeleted is the rule for recover and permadelete: records deleted
// by the principal may only be handled by the principal.
func canTouchDeleted(st *Student, actor audit.Actor) bool {
	if actor.Role == audit.RolePrincipal {
		return true
	}
	return st.DeletedBy != audit.RolePrincipal
}

// EditStudent replaces all provided mutable fields. Both pre- and
// post-state land in the audit entry so the edit can be undone.
func (s *Service) EditStudent(ctx context.Context, id string, in StudentInput, actor audit.Actor) (Student, error) {
	if err := in.validate(); err != nil {
		return Student{}, err
	}
	st, err := s.store.GetStudentByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil || st.IsDeleted {
		return Student{}, apperr.NotFound("student not found")
	}
	if !canMutate(st, actor) {
		return Student{}, apperr.Permission("permission denied")
	}
	if in.Roll != st.Roll {
		if other, err := s.store.GetStudentByRoll(ctx, in.Roll); err != nil {
			return Student{}, err
		} else if other != nil && other.ID != st.ID {
			return Student{}, apperr.Conflict("student with roll %d already exists", in.Roll)
		}
	}

	original := *st
	original.Marks = st.Marks.Clone()

	st.Name = in.Name
	st.Age = in.Age
	st.Class = in.Class
	st.Roll = in.Roll
	st.Marks = in.Marks.Normalize()

	if err := s.store.UpdateStudent(ctx, *st); err != nil {
		return Student{}, err
	}
	if _, err := s.log.Record(ctx, audit.ActionEdit, actor, editPayload{Student: *st, OriginalStudent: original}); err != nil {
		return Student{}, err
	}
	return *st, nil
}

// UpdateMarks applies a partial marks update. A teacher may only grade
// students of their own class.
func (s *Service) UpdateMarks(ctx context.Context, id string, marks Marks, actor audit.Actor, teacherClass string) (Student, error) {
	for subject, mark := range marks {
		if mark == nil || *mark < 0 || *mark > 100 {
			return Student{}, apperr.Validation("invalid marks for %s, must be between 0-100", subject)
		}
	}
	st, err := s.store.GetStudentByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil || st.IsDeleted {
		return Student{}, apperr.NotFound("student not found")
	}
	if actor.Role == audit.RoleTeacher && st.Class != teacherClass {
		return Student{}, apperr.Permission("you can only update students in your class")
	}
	if actor.Role != audit.RoleTeacher && actor.Role != audit.RolePrincipal {
		return Student{}, apperr.Permission("permission denied")
	}

	original := st.Marks.Clone()
	if st.Marks == nil {
		st.Marks = Marks{}.Normalize()
	}
	for subject, mark := range marks {
		v := *mark
		st.Marks[subject] = &v
	}

	if err := s.store.UpdateStudent(ctx, *st); err != nil {
		return Student{}, err
	}
	if _, err := s.log.Record(ctx, audit.ActionUpdateMarks, actor, marksPayload{
		Student:       *st,
		OriginalMarks: original,
		UpdatedMarks:  marks,
	}); err != nil {
		return Student{}, err
	}
	return *st, nil
}

// DeleteStudent moves a record from the roster to the graveyard.
func (s *Service) DeleteStudent(ctx context.Context, id string, actor audit.Actor) error {
	st, err := s.store.GetStudentByID(ctx, id)
	if err != nil {
		return err
	}
	if st == nil || st.IsDeleted {
		return apperr.NotFound("student not found")
	}
	if !canMutate(st, actor) {
		return apperr.Permission("permission denied")
	}

	now := time.Now().UTC()
	if err := s.store.SoftDeleteStudent(ctx, id, actor.Role, now); err != nil {
		return err
	}
	st.IsDeleted = true
	st.DeletedBy = actor.Role
	st.DeletedAt = &now
	_, err = s.log.Record(ctx, audit.ActionDelete, actor, studentPayload{Student: *st})
	return err
}

// RecoverStudent moves a record from the graveyard back to the roster,
// clearing the deletion stamps.
func (s *Service) RecoverStudent(ctx context.Context, id string, actor audit.Actor) (Student, error) {
	st, err := s.store.GetStudentByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil || !st.IsDeleted {
		return Student{}, apperr.NotFound("deleted student not found")
	}
	if !canTouchDeleted(st, actor) {
		return Student{}, apperr.Permission("permission denied")
	}

	if err := s.store.RecoverStudent(ctx, id); err != nil {
		return Student{}, err
	}
	st.IsDeleted = false
	st.DeletedBy = ""
	st.DeletedAt = nil
	if _, err := s.log.Record(ctx, audit.ActionRecover, actor, studentPayload{Student: *st}); err != nil {
		return Student{}, err
	}
	return *st, nil
}

// PermaDeleteStudent removes a graveyard record irreversibly. The full
// snapshot is logged before the row disappears.
func (s *Service) PermaDeleteStudent(ctx context.Context, id string, actor audit.Actor) error {
	st, err := s.store.GetStudentByID(ctx, id)
	if err != nil {
		return err
	}
	if st == nil || !st.IsDeleted {
		return apperr.NotFound("deleted student not found")
	}
	if !canTouchDeleted(st, actor) {
		return apperr.Permission("permission denied")
	}

	if _, err := s.log.Record(ctx, audit.ActionPermaDelete, actor, studentPayload{Student: *st}); err != nil {
		return err
	}
	return s.store.PermaDeleteStudent(ctx, id)
}

// ClearAll snapshots the roster and graveyard and empties both. An
// unconsumed previous snapshot is overwritten.
func (s *Service) ClearAll(ctx context.Context, actor audit.Actor) error {
	if _, err := s.store.ClearAll(ctx, actor.Role, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.log.Record(ctx, audit.ActionClear, actor, nil)
	return err
}

// RecoverAll restores both collections from the cleared snapshot and
// discards it. Restoring does not de-duplicate against records added
// after the clear.
func (s *Service) RecoverAll(ctx context.Context, actor audit.Actor) error {
	snap, err := s.store.GetClearedSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return apperr.Conflict("nothing to recover")
	}
	if snap.ClearedBy == audit.RolePrincipal && actor.Role != audit.RolePrincipal {
		return apperr.Permission("permission denied")
	}
	if err := s.store.RecoverAll(ctx); err != nil {
		return err
	}
	_, err = s.log.Record(ctx, audit.ActionRecoverAll, actor, nil)
	return err
}

// UndoEdit reverts the edit recorded at logIndex (0 = newest) to its
// pre-edit snapshot. The undo is itself logged and cannot be undone.
func (s *Service) UndoEdit(ctx context.Context, logIndex int, actor audit.Actor) (Student, error) {
	entries, err := s.log.Entries(ctx)
	if err != nil {
		return Student{}, err
	}
	if logIndex < 0 || logIndex >= len(entries) {
		return Student{}, apperr.NotFound("log entry not found")
	}
	entry := entries[logIndex]
	if entry.Action != audit.ActionEdit {
		return Student{}, apperr.InvalidOperation("not an edit action")
	}
	if actor.Role != audit.RolePrincipal && !(actor.Role == audit.RoleTeacher && entry.ActorRole == audit.RoleTeacher) {
		return Student{}, apperr.Permission("permission denied")
	}

	var payload editPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return Student{}, apperr.InvalidOperation("edit entry has no usable snapshot")
	}

	// The live record is located by the post-edit (name, roll) pair, not
	// by id, matching how the log was originally replayed.
	live, err := s.findLive(ctx, payload.Student.Name, payload.Student.Roll)
	if err != nil {
		return Student{}, err
	}
	if live == nil {
		return Student{}, apperr.NotFound("student not found")
	}

	original := payload.OriginalStudent
	live.Name = original.Name
	live.Age = original.Age
	live.Class = original.Class
	live.Roll = original.Roll
	live.Marks = original.Marks.Clone()

	if err := s.store.UpdateStudent(ctx, *live); err != nil {
		return Student{}, err
	}
	if _, err := s.log.Record(ctx, audit.ActionUndoEdit, actor, studentPayload{Student: *live}); err != nil {
		return Student{}, err
	}
	return *live, nil
}

func (s *Service) findLive(ctx context.Context, name string, roll int) (*Student, error) {
	students, err := s.store.GetStudents(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range students {
		if students[i].Name == name && students[i].Roll == roll {
			return &students[i], nil
		}
	}
	return nil, nil
}

// Students returns the roster.
func (s *Service) Students(ctx context.Context) ([]Student, error) {
	return s.store.GetStudents(ctx, false)
}

// DeletedStudents returns the graveyard.
func (s *Service) DeletedStudents(ctx context.Context) ([]Student, error) {
	return s.store.GetDeletedStudents(ctx)
}

// StudentByRoll returns a live student by roll number.
func (s *Service) StudentByRoll(ctx context.Context, roll int) (*Student, error) {
	return s.store.GetStudentByRoll(ctx, roll)
}

// ClassStudents returns the roster filtered to one class.
func (s *Service) ClassStudents(ctx context.Context, class string) ([]Student, error) {
	all, err := s.store.GetStudents(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []Student
	for _, st := range all {
		if st.Class == class {
			out = append(out, st)
		}
	}
	return out, nil
}

// AuthenticateStudent checks a student login by first name and password.
func (s *Service) AuthenticateStudent(ctx context.Context, firstName, password string) (*Student, error) {
	st, err := s.store.GetStudentByFirstName(ctx, firstName)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.Authentication("invalid first name or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Authentication("invalid first name or password")
	}
	return st, nil
}

// SetProfilePicture stores a student's profile picture.
func (s *Service) SetProfilePicture(ctx context.Context, roll int, data string) error {
	if data == "" {
		return apperr.Validation("image data is required")
	}
	st, err := s.store.GetStudentByRoll(ctx, roll)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFound("student not found")
	}
	return s.store.SetProfilePicture(ctx, roll, data)
}

// ProfilePicture returns a student's profile picture.
func (s *Service) ProfilePicture(ctx context.Context, roll int) (string, bool, error) {
	return s.store.GetProfilePicture(ctx, roll)
}
