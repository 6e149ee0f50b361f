package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"schoolbook/internal/attendance"
	"schoolbook/internal/audit"
	"schoolbook/internal/config"
	"schoolbook/internal/records"
	"schoolbook/internal/users"
	"schoolbook/internal/verify"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		JWTIssuer:     "schoolbook",
		JWTSigningKey: "test-signing-key",
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
	}
	auditSvc := audit.NewService(audit.NewMemStore(), nil)
	recordSvc := records.NewService(records.NewMemStore(), auditSvc)
	ledger := attendance.NewLedger(attendance.NewMemStore(), verify.Deny{}, auditSvc)
	userSvc := users.NewService(users.NewMemStore(), auditSvc)
	if err := userSvc.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := gin.New()
	New(cfg, recordSvc, auditSvc, ledger, userSvc, nil).Register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func loginAs(t *testing.T, r *gin.Engine, username, password string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/login", "", map[string]string{
		"username": username, "password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}
	return token
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/login", "", map[string]string{
		"username": "principal", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStudentLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	token := loginAs(t, r, "principal", "principal123")

	w := doJSON(t, r, http.MethodPost, "/api/students", token, map[string]any{
		"name": "Amy Lee", "age": 9, "class": "3", "roll": 7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add student: status %d body %s", w.Code, w.Body.String())
	}
	student, _ := decode(t, w)["student"].(map[string]any)
	id, _ := student["id"].(string)
	if id == "" {
		t.Fatal("expected student id")
	}

	w = doJSON(t, r, http.MethodGet, "/api/students", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list students: status %d", w.Code)
	}
	students, _ := decode(t, w)["students"].([]any)
	if len(students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(students))
	}

	w = doJSON(t, r, http.MethodDelete, "/api/students/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete student: status %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/deleted_students", token, nil)
	deleted, _ := decode(t, w)["deleted_students"].([]any)
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted student, got %d", len(deleted))
	}

	w = doJSON(t, r, http.MethodPost, "/api/deleted_students/"+id+"/recover", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recover student: status %d body %s", w.Code, w.Body.String())
	}
}

func TestStudentLoginAndGrades(t *testing.T) {
	r := newTestRouter(t)
	staff := loginAs(t, r, "teacher_3", "teacher123")

	w := doJSON(t, r, http.MethodPost, "/api/students", staff, map[string]any{
		"name": "Amy Lee", "age": 9, "class": "3", "roll": 7,
		"marks": map[string]int{"math": 95},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add student: status %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/student/login", "", map[string]string{
		"first_name": "amy", "password": records.DefaultStudentPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("student login: status %d body %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)

	w = doJSON(t, r, http.MethodGet, "/api/student/grades", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("grades: status %d body %s", w.Code, w.Body.String())
	}
	grades, _ := decode(t, w)["grades"].(map[string]any)
	if grades["math"] != "A" {
		t.Fatalf("expected math grade A, got %v", grades["math"])
	}

	// Students are locked out of staff routes.
	w = doJSON(t, r, http.MethodGet, "/api/students", token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student on staff route, got %d", w.Code)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/students", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/students", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestAttendanceSubmitPendingWithoutOracle(t *testing.T) {
	r := newTestRouter(t)
	staff := loginAs(t, r, "teacher_3", "teacher123")

	w := doJSON(t, r, http.MethodPost, "/api/students", staff, map[string]any{
		"name": "Amy Lee", "age": 9, "class": "3", "roll": 7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add student: status %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/student/login", "", map[string]string{
		"first_name": "amy", "password": records.DefaultStudentPassword,
	})
	token, _ := decode(t, w)["token"].(string)

	w = doJSON(t, r, http.MethodPost, "/api/student/attendance", token, map[string]string{
		"image_data": "data:image/jpeg;base64,xxx",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit attendance: status %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	rec, _ := resp["attendance"].(map[string]any)
	if rec["final_status"] != attendance.StatusPending {
		t.Fatalf("expected pending status, got %v", rec["final_status"])
	}
	if rec["attempts_remaining"] != float64(attendance.MaxAttempts-1) {
		t.Fatalf("expected %d attempts left, got %v", attendance.MaxAttempts-1, rec["attempts_remaining"])
	}

	// Manual verification by staff resolves the day.
	w = doJSON(t, r, http.MethodPost, "/api/attendance/verify/7", staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify attendance: status %d body %s", w.Code, w.Body.String())
	}
}

func TestClearLogMarker(t *testing.T) {
	r := newTestRouter(t)
	principal := loginAs(t, r, "principal", "principal123")
	teacher := loginAs(t, r, "teacher_3", "teacher123")

	w := doJSON(t, r, http.MethodPost, "/api/students", teacher, map[string]any{
		"name": "Amy Lee", "age": 9, "class": "3", "roll": 7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add student: status %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/clear_log", teacher, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for teacher clearing log, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/clear_log", principal, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear log: status %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/clear_log", principal, nil)
	resp := decode(t, w)
	if resp["cleared"] != true || resp["clearedBy"] != audit.RolePrincipal {
		t.Fatalf("expected surviving clear marker, got %v", resp)
	}

	w = doJSON(t, r, http.MethodGet, "/api/log", principal, nil)
	entries, _ := decode(t, w)["log"].([]any)
	if len(entries) != 0 {
		t.Fatalf("expected empty log after clear, got %d entries", len(entries))
	}
}
