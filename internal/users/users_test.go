package users

import (
	"context"
	"testing"

	"schoolbook/internal/apperr"
	"schoolbook/internal/audit"
	"schoolbook/internal/records"
)

var (
	asPrincipal = audit.Actor{Name: "principal", Role: audit.RolePrincipal}
	asTeacher   = audit.Actor{Name: "teacher_3", Role: audit.RoleTeacher}
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemStore(), audit.NewService(audit.NewMemStore(), nil))
}

func TestSeedCreatesDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "principal", "principal123"); err != nil {
		t.Fatalf("principal login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "teacher_k", "teacher123"); err != nil {
		t.Fatalf("teacher_k login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "teacher_12", "teacher123"); err != nil {
		t.Fatalf("teacher_12 login: %v", err)
	}

	teachers, err := svc.Teachers(ctx, asPrincipal)
	if err != nil {
		t.Fatalf("teachers: %v", err)
	}
	if len(teachers) != len(records.Classes) {
		t.Fatalf("expected one teacher per class (%d), got %d", len(records.Classes), len(teachers))
	}
}

func TestSeedIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	teachers, _ := svc.Teachers(ctx, asPrincipal)
	if len(teachers) != len(records.Classes) {
		t.Fatalf("expected seed to run once, got %d teachers", len(teachers))
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "principal", "wrong"); !apperr.IsKind(err, apperr.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "whatever"); !apperr.IsKind(err, apperr.KindAuthentication) {
		t.Fatalf("expected authentication error for unknown user, got %v", err)
	}
}

func TestAddTeacherPrincipalOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddTeacher(ctx, "teacher_extra", "4", "secret", asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := svc.AddTeacher(ctx, "teacher_extra", "14", "secret", asPrincipal); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for bad class, got %v", err)
	}

	u, err := svc.AddTeacher(ctx, "teacher_extra", "4", "secret", asPrincipal)
	if err != nil {
		t.Fatalf("add teacher: %v", err)
	}
	if u.Role != audit.RoleTeacher || u.Class != "4" {
		t.Fatalf("unexpected teacher: %+v", u)
	}

	if _, err := svc.AddTeacher(ctx, "teacher_extra", "5", "secret", asPrincipal); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}

	class, err := svc.TeacherClass(ctx, "teacher_extra")
	if err != nil {
		t.Fatalf("teacher class: %v", err)
	}
	if class != "4" {
		t.Fatalf("expected class 4, got %q", class)
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddTeacher(ctx, "teacher_extra", "4", "old-secret", asPrincipal); err != nil {
		t.Fatalf("add teacher: %v", err)
	}
	if err := svc.ChangePassword(ctx, "teacher_extra", "new-secret", asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "ghost", "new-secret", asPrincipal); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "teacher_extra", "new-secret", asPrincipal); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "teacher_extra", "old-secret"); !apperr.IsKind(err, apperr.KindAuthentication) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "teacher_extra", "new-secret"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestDeleteTeacher(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddTeacher(ctx, "teacher_extra", "4", "secret", asPrincipal); err != nil {
		t.Fatalf("add teacher: %v", err)
	}
	if err := svc.DeleteTeacher(ctx, "teacher_extra", asTeacher); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := svc.DeleteTeacher(ctx, "principal", asPrincipal); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found when target is not a teacher, got %v", err)
	}
	if err := svc.DeleteTeacher(ctx, "teacher_extra", asPrincipal); err != nil {
		t.Fatalf("delete teacher: %v", err)
	}
	if _, err := svc.TeacherClass(ctx, "teacher_extra"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected teacher gone, got %v", err)
	}
}
