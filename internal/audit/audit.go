package audit

import (
	"encoding/json"
	"time"
)

// Roles recognized across the system. Records are tagged with the coarse
// role string of the actor, not a per-user identity.
const (
	RolePrincipal = "principal"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

// Actor identifies who performed an operation.
type Actor struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Audit actions.
const (
	ActionAdd                   = "add"
	ActionEdit                  = "edit"
	ActionDelete                = "delete"
	ActionRecover               = "recover"
	ActionPermaDelete           = "permadelete"
	ActionClear                 = "clear"
	ActionRecoverAll            = "recoverall"
	ActionUndoEdit              = "undo_edit"
	ActionUpdateMarks           = "update_marks"
	ActionVerifyAttendance      = "verify_attendance"
	ActionAttendanceAttempt     = "attendance_attempt"
	ActionOverrideAttendance    = "override_attendance"
	ActionRequestNewImage       = "request_new_image"
	ActionAddTeacher            = "add_teacher"
	ActionDeleteTeacher         = "delete_teacher"
	ActionChangeTeacherPassword = "change_teacher_password"
)

// Entry is one immutable audit log record. Listing is reverse
// chronological: index 0 is the newest entry.
type Entry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ActorRole string          `json:"who"`
	ActorName string          `json:"actor"`
	When      time.Time       `json:"when"`
}

// ClearMarker records who wiped the audit log. It is written before the
// wipe and survives it.
type ClearMarker struct {
	ClearedBy string    `json:"clearedBy"`
	ClearedAt time.Time `json:"clearedAt"`
}
