package audit

import (
	"context"
	"encoding/json"
	"testing"

	"schoolbook/internal/apperr"
)

func TestEntriesNewestFirst(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	ctx := context.Background()
	actor := Actor{Name: "teacher_3", Role: RoleTeacher}

	if _, err := svc.Record(ctx, ActionAdd, actor, map[string]string{"name": "Amy Lee"}); err != nil {
		t.Fatalf("record add: %v", err)
	}
	if _, err := svc.Record(ctx, ActionEdit, actor, map[string]string{"name": "Amy Lee"}); err != nil {
		t.Fatalf("record edit: %v", err)
	}

	entries, err := svc.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != ActionEdit || entries[1].Action != ActionAdd {
		t.Fatalf("expected newest first, got %q then %q", entries[0].Action, entries[1].Action)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Fatal("expected unique entry ids")
	}
	if entries[0].ActorRole != RoleTeacher || entries[0].ActorName != "teacher_3" {
		t.Fatalf("unexpected actor fields: %+v", entries[0])
	}
}

func TestRecordMarshalsPayload(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	entry, err := svc.Record(context.Background(), ActionDelete, Actor{Name: "principal", Role: RolePrincipal}, map[string]int{"roll": 7})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(entry.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["roll"] != 7 {
		t.Fatalf("expected roll 7 in payload, got %v", decoded)
	}
}

func TestClearPrincipalOnly(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	ctx := context.Background()

	if _, err := svc.Record(ctx, ActionAdd, Actor{Name: "teacher_3", Role: RoleTeacher}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Clear(ctx, Actor{Name: "teacher_3", Role: RoleTeacher}); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	entries, _ := svc.Entries(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected log untouched after denied clear, got %d entries", len(entries))
	}
}

func TestClearMarkerSurvivesWipe(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	ctx := context.Background()
	principal := Actor{Name: "principal", Role: RolePrincipal}

	if _, err := svc.Record(ctx, ActionAdd, principal, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Clear(ctx, principal); err != nil {
		t.Fatalf("clear: %v", err)
	}

	entries, _ := svc.Entries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty log, got %d entries", len(entries))
	}

	marker, err := svc.LastClear(ctx)
	if err != nil {
		t.Fatalf("last clear: %v", err)
	}
	if marker == nil || marker.ClearedBy != RolePrincipal {
		t.Fatalf("expected marker cleared by principal, got %+v", marker)
	}
}

func TestLastClearNilBeforeAnyWipe(t *testing.T) {
	svc := NewService(NewMemStore(), nil)
	marker, err := svc.LastClear(context.Background())
	if err != nil {
		t.Fatalf("last clear: %v", err)
	}
	if marker != nil {
		t.Fatalf("expected nil marker, got %+v", marker)
	}
}
