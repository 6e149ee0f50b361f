package records

import (
	"context"
	"testing"

	"schoolbook/internal/apperr"
	"schoolbook/internal/audit"
)

var (
	asPrincipal = audit.Actor{Name: "principal", Role: audit.RolePrincipal}
	asTeacher   = audit.Actor{Name: "teacher_3", Role: audit.RoleTeacher}
)

func intp(n int) *int { return &n }

func newTestService(t *testing.T) (*Service, *audit.Service) {
	t.Helper()
	auditSvc := audit.NewService(audit.NewMemStore(), nil)
	return NewService(NewMemStore(), auditSvc), auditSvc
}

func mustAdd(t *testing.T, svc *Service, name string, roll int, actor audit.Actor) Student {
	t.Helper()
	st, err := svc.AddStudent(context.Background(), StudentInput{
		Name: name, Age: 9, Class: "3", Roll: roll,
	}, actor)
	if err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	return st
}

func TestAddStudentDefaultPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if st.AddedBy != audit.RoleTeacher {
		t.Fatalf("expected addedBy teacher, got %q", st.AddedBy)
	}
	if st.PasswordHash == "" || st.PasswordHash == DefaultStudentPassword {
		t.Fatal("expected hashed password")
	}

	got, err := svc.AuthenticateStudent(ctx, "amy", DefaultStudentPassword)
	if err != nil {
		t.Fatalf("authenticate with default password: %v", err)
	}
	if got.ID != st.ID {
		t.Fatalf("expected student %s, got %s", st.ID, got.ID)
	}

	if _, err := svc.AuthenticateStudent(ctx, "amy", "wrong"); !apperr.IsKind(err, apperr.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestAddStudentRollConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if _, err := svc.AddStudent(ctx, StudentInput{Name: "Ben Ray", Age: 8, Class: "3", Roll: 7}, asTeacher); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAddStudentReusesDeletedRoll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if err := svc.DeleteStudent(ctx, st.ID, asTeacher); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.AddStudent(ctx, StudentInput{Name: "Ben Ray", Age: 8, Class: "3", Roll: 7}, asTeacher); err != nil {
		t.Fatalf("expected deleted roll to be reusable, got %v", err)
	}
}

func TestAddStudentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []StudentInput{
		{Age: 9, Class: "3", Roll: 1},
		{Name: "Amy Lee", Age: 0, Class: "3", Roll: 1},
		{Name: "Amy Lee", Age: 9, Class: "13", Roll: 1},
		{Name: "Amy Lee", Age: 9, Class: "3", Roll: 0},
		{Name: "Amy Lee", Age: 9, Class: "3", Roll: 1, Marks: Marks{"math": intp(101)}},
	}
	for i, in := range cases {
		if _, err := svc.AddStudent(ctx, in, asTeacher); !apperr.IsKind(err, apperr.KindValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestEditStudentPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asPrincipal)
	in := StudentInput{Name: "Amy Lee", Age: 10, Class: "3", Roll: 7}
	if _, err := svc.EditStudent(ctx, st.ID, in, asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error for teacher on principal-added record, got %v", err)
	}
	if _, err := svc.EditStudent(ctx, st.ID, in, asPrincipal); err != nil {
		t.Fatalf("principal edit: %v", err)
	}
}

func TestEditStudentRollConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	st := mustAdd(t, svc, "Ben Ray", 8, asTeacher)
	if _, err := svc.EditStudent(ctx, st.ID, StudentInput{Name: "Ben Ray", Age: 9, Class: "3", Roll: 7}, asTeacher); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on roll collision, got %v", err)
	}
}

func TestUndoEditRestoresOriginal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if _, err := svc.EditStudent(ctx, st.ID, StudentInput{Name: "Amy Lee", Age: 10, Class: "4", Roll: 7}, asTeacher); err != nil {
		t.Fatalf("edit: %v", err)
	}

	restored, err := svc.UndoEdit(ctx, 0, asTeacher)
	if err != nil {
		t.Fatalf("undo edit: %v", err)
	}
	if restored.Age != 9 || restored.Class != "3" {
		t.Fatalf("expected original age 9 class 3, got age %d class %s", restored.Age, restored.Class)
	}

	// The undo itself is logged and cannot be undone again.
	if _, err := svc.UndoEdit(ctx, 0, asTeacher); !apperr.IsKind(err, apperr.KindInvalidOperation) {
		t.Fatalf("expected invalid operation on undo entry, got %v", err)
	}
}

func TestUndoEditPermission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asPrincipal)
	if _, err := svc.EditStudent(ctx, st.ID, StudentInput{Name: "Amy Lee", Age: 10, Class: "3", Roll: 7}, asPrincipal); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := svc.UndoEdit(ctx, 0, asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := svc.UndoEdit(ctx, 5, asPrincipal); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for out-of-range index, got %v", err)
	}
}

func TestRecoverStudentPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asPrincipal)
	if err := svc.DeleteStudent(ctx, st.ID, asPrincipal); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.RecoverStudent(ctx, st.ID, asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error for teacher on principal-deleted record, got %v", err)
	}
	recovered, err := svc.RecoverStudent(ctx, st.ID, asPrincipal)
	if err != nil {
		t.Fatalf("principal recover: %v", err)
	}
	if recovered.IsDeleted || recovered.DeletedBy != "" || recovered.DeletedAt != nil {
		t.Fatal("expected deletion stamps cleared")
	}
	if _, err := svc.RecoverStudent(ctx, st.ID, asPrincipal); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found on second recover, got %v", err)
	}
}

func TestPermaDeleteLogsBeforeRemoval(t *testing.T) {
	svc, auditSvc := newTestService(t)
	ctx := context.Background()

	st := mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if err := svc.DeleteStudent(ctx, st.ID, asTeacher); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.PermaDeleteStudent(ctx, st.ID, asTeacher); err != nil {
		t.Fatalf("permadelete: %v", err)
	}

	graveyard, err := svc.DeletedStudents(ctx)
	if err != nil {
		t.Fatalf("deleted students: %v", err)
	}
	if len(graveyard) != 0 {
		t.Fatalf("expected empty graveyard, got %d", len(graveyard))
	}

	entries, err := auditSvc.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if entries[0].Action != audit.ActionPermaDelete {
		t.Fatalf("expected permadelete entry, got %q", entries[0].Action)
	}
	if len(entries[0].Payload) == 0 {
		t.Fatal("expected record snapshot in the permadelete entry")
	}
}

func TestClearAllAndRecoverAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	st := mustAdd(t, svc, "Ben Ray", 8, asTeacher)
	if err := svc.DeleteStudent(ctx, st.ID, asTeacher); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := svc.ClearAll(ctx, asPrincipal); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if students, _ := svc.Students(ctx); len(students) != 0 {
		t.Fatalf("expected empty roster after clear, got %d", len(students))
	}

	if err := svc.RecoverAll(ctx, asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error on principal-cleared snapshot, got %v", err)
	}
	if err := svc.RecoverAll(ctx, asPrincipal); err != nil {
		t.Fatalf("recover all: %v", err)
	}

	students, _ := svc.Students(ctx)
	graveyard, _ := svc.DeletedStudents(ctx)
	if len(students) != 1 || len(graveyard) != 1 {
		t.Fatalf("expected 1 live and 1 deleted, got %d and %d", len(students), len(graveyard))
	}

	if err := svc.RecoverAll(ctx, asPrincipal); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict with no snapshot, got %v", err)
	}
}

func TestRecoverAllDoesNotDeduplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if err := svc.ClearAll(ctx, asTeacher); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	// The cleared roll is free again, so the same student can be re-added.
	mustAdd(t, svc, "Amy Lee", 7, asTeacher)

	if err := svc.RecoverAll(ctx, asTeacher); err != nil {
		t.Fatalf("recover all: %v", err)
	}
	students, _ := svc.Students(ctx)
	if len(students) != 2 {
		t.Fatalf("expected restore to keep both copies, got %d", len(students))
	}
}

func TestUpdateMarksClassRestriction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.AddStudent(ctx, StudentInput{
		Name: "Amy Lee", Age: 9, Class: "3", Roll: 7,
		Marks: Marks{"math": intp(80)},
	}, asTeacher)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := svc.UpdateMarks(ctx, st.ID, Marks{"science": intp(90)}, asTeacher, "5"); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error for wrong class, got %v", err)
	}

	updated, err := svc.UpdateMarks(ctx, st.ID, Marks{"science": intp(90)}, asTeacher, "3")
	if err != nil {
		t.Fatalf("update marks: %v", err)
	}
	if updated.Marks["math"] == nil || *updated.Marks["math"] != 80 {
		t.Fatal("expected partial update to keep existing math mark")
	}
	if updated.Marks["science"] == nil || *updated.Marks["science"] != 90 {
		t.Fatal("expected science mark set to 90")
	}

	if _, err := svc.UpdateMarks(ctx, st.ID, Marks{"math": intp(120)}, asTeacher, "3"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for out-of-range mark, got %v", err)
	}
}

func TestClassStudents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustAdd(t, svc, "Amy Lee", 7, asTeacher)
	if _, err := svc.AddStudent(ctx, StudentInput{Name: "Ben Ray", Age: 10, Class: "5", Roll: 8}, asTeacher); err != nil {
		t.Fatalf("add: %v", err)
	}

	third, err := svc.ClassStudents(ctx, "3")
	if err != nil {
		t.Fatalf("class students: %v", err)
	}
	if len(third) != 1 || third[0].Name != "Amy Lee" {
		t.Fatalf("expected only Amy Lee in class 3, got %v", third)
	}
}
