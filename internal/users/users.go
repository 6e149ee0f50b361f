package users

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"schoolbook/internal/apperr"
	"schoolbook/internal/audit"
	"schoolbook/internal/records"
)

// User is a staff account (teacher or principal).
type User struct {
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"`
	Class              string    `json:"class,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	LastPasswordChange time.Time `json:"last_password_change"`
}

// Store is the persistence collaborator for staff accounts.
type Store interface {
	GetUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUserPassword(ctx context.Context, username, hash string, at time.Time) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context, role string) ([]User, error)
}

// Service manages staff accounts. Teacher management is principal-only
// and every change is audited.
type Service struct {
	store Store
	log   *audit.Service
}

// NewService creates a user service.
func NewService(store Store, log *audit.Service) *Service {
	return &Service{store: store, log: log}
}

type teacherPayload struct {
	Username string `json:"username"`
	Class    string `json:"class,omitempty"`
}

// Authenticate checks a staff login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.Authentication("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Authentication("invalid username or password")
	}
	return u, nil
}

// Teachers lists teacher accounts, principal only.
func (s *Service) Teachers(ctx context.Context, actor audit.Actor) ([]User, error) {
	if actor.Role != audit.RolePrincipal {
		return nil, apperr.Permission("only principal can view teachers")
	}
	return s.store.ListUsers(ctx, audit.RoleTeacher)
}

// AddTeacher creates a teacher account assigned to one class.
func (s *Service) AddTeacher(ctx context.Context, username, class, password string, actor audit.Actor) (User, error) {
	if actor.Role != audit.RolePrincipal {
		return User{}, apperr.Permission("only principal can add teachers")
	}
	if username == "" || class == "" || password == "" {
		return User{}, apperr.Validation("username, class, and password are required")
	}
	if !records.ValidClass(class) {
		return User{}, apperr.Validation("class must be one of K-12")
	}
	if existing, err := s.store.GetUser(ctx, username); err != nil {
		return User{}, err
	} else if existing != nil {
		return User{}, apperr.Conflict("teacher with this username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	u := User{
		Username:           username,
		PasswordHash:       string(hash),
		Role:               audit.RoleTeacher,
		Class:              class,
		CreatedAt:          now,
		LastPasswordChange: now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	if _, err := s.log.Record(ctx, audit.ActionAddTeacher, actor, teacherPayload{Username: username, Class: class}); err != nil {
		return User{}, err
	}
	return u, nil
}

// ChangePassword rotates a teacher's password, principal only. Passwords
// never reach the audit log.
func (s *Service) ChangePassword(ctx context.Context, username, newPassword string, actor audit.Actor) error {
	if actor.Role != audit.RolePrincipal {
		return apperr.Permission("only principal can change teacher passwords")
	}
	if newPassword == "" {
		return apperr.Validation("new password is required")
	}
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.NotFound("teacher not found")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, username, string(hash), time.Now().UTC()); err != nil {
		return err
	}
	_, err = s.log.Record(ctx, audit.ActionChangeTeacherPassword, actor, teacherPayload{Username: username})
	return err
}

// DeleteTeacher removes a teacher account, principal only.
func (s *Service) DeleteTeacher(ctx context.Context, username string, actor audit.Actor) error {
	if actor.Role != audit.RolePrincipal {
		return apperr.Permission("only principal can delete teachers")
	}
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if u == nil || u.Role != audit.RoleTeacher {
		return apperr.NotFound("teacher not found")
	}
	if err := s.store.DeleteUser(ctx, username); err != nil {
		return err
	}
	_, err = s.log.Record(ctx, audit.ActionDeleteTeacher, actor, teacherPayload{Username: username, Class: u.Class})
	return err
}

// TeacherClass returns the class assigned to a teacher.
func (s *Service) TeacherClass(ctx context.Context, username string) (string, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return "", err
	}
	if u == nil || u.Role != audit.RoleTeacher {
		return "", apperr.NotFound("teacher class not found")
	}
	return u.Class, nil
}

// Seed creates the default principal and one teacher per class when the
// user table is empty, so a fresh install is immediately usable.
func (s *Service) Seed(ctx context.Context) error {
	existing, err := s.store.ListUsers(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	create := func(username, password, role, class string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		return s.store.CreateUser(ctx, User{
			Username:           username,
			PasswordHash:       string(hash),
			Role:               role,
			Class:              class,
			CreatedAt:          now,
			LastPasswordChange: now,
		})
	}

	if err := create("principal", "principal123", audit.RolePrincipal, ""); err != nil {
		return err
	}
	for _, class := range records.Classes {
		username := "teacher_" + class
		if class == "K" {
			username = "teacher_k"
		}
		if err := create(username, "teacher123", audit.RoleTeacher, class); err != nil {
			return err
		}
	}
	return nil
}
