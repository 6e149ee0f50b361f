package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Repository persists student records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `id, name, age, class, roll, math_marks, science_marks, history_marks, english_marks,
	profile_picture, has_profile_picture, password_hash, added_by, created_at, is_deleted, deleted_by, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (Student, error) {
	var st Student
	var math, science, history, english sql.NullInt64
	var profile, deletedBy sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&st.ID, &st.Name, &st.Age, &st.Class, &st.Roll,
		&math, &science, &history, &english,
		&profile, &st.HasProfilePicture, &st.PasswordHash,
		&st.AddedBy, &st.CreatedAt, &st.IsDeleted, &deletedBy, &deletedAt)
	if err != nil {
		return Student{}, err
	}
	st.Marks = Marks{
		"math":    nullableInt(math),
		"science": nullableInt(science),
		"history": nullableInt(history),
		"english": nullableInt(english),
	}
	st.ProfilePicture = profile.String
	st.DeletedBy = deletedBy.String
	if deletedAt.Valid {
		t := deletedAt.Time
		st.DeletedAt = &t
	}
	return st, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func markArg(m Marks, subject string) any {
	if v, ok := m[subject]; ok && v != nil {
		return *v
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateStudent writes a new roster record.
func (r *Repository) CreateStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, st.ID, st.Name, st.Age, st.Class, st.Roll,
		markArg(st.Marks, "math"), markArg(st.Marks, "science"),
		markArg(st.Marks, "history"), markArg(st.Marks, "english"),
		nilIfEmpty(st.ProfilePicture), st.HasProfilePicture, st.PasswordHash,
		st.AddedBy, st.CreatedAt, st.IsDeleted, nilIfEmpty(st.DeletedBy), st.DeletedAt)
	return err
}

// GetStudents returns the roster, or roster plus graveyard when
// includeDeleted is set.
func (r *Repository) GetStudents(ctx context.Context, includeDeleted bool) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	if !includeDeleted {
		query += ` WHERE NOT is_deleted`
	}
	query += ` ORDER BY created_at, roll`
	return r.queryStudents(ctx, query)
}

// GetDeletedStudents returns the graveyard.
func (r *Repository) GetDeletedStudents(ctx context.Context) ([]Student, error) {
	return r.queryStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE is_deleted ORDER BY deleted_at`)
}

func (r *Repository) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// GetStudentByID returns a record regardless of deletion state.
func (r *Repository) GetStudentByID(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// GetStudentByRoll returns a live student by roll number.
func (r *Repository) GetStudentByRoll(ctx context.Context, roll int) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+` FROM students WHERE roll = $1 AND NOT is_deleted LIMIT 1
	`, roll)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// GetStudentByFirstName matches the first token of the name,
// case-insensitively, among live students.
func (r *Repository) GetStudentByFirstName(ctx context.Context, first string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE lower(split_part(name, ' ', 1)) = lower($1) AND NOT is_deleted
		LIMIT 1
	`, first)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// UpdateStudent replaces the mutable fields of a record.
func (r *Repository) UpdateStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET
			name = $2, age = $3, class = $4, roll = $5,
			math_marks = $6, science_marks = $7, history_marks = $8, english_marks = $9,
			profile_picture = $10, has_profile_picture = $11
		WHERE id = $1
	`, st.ID, st.Name, st.Age, st.Class, st.Roll,
		markArg(st.Marks, "math"), markArg(st.Marks, "science"),
		markArg(st.Marks, "history"), markArg(st.Marks, "english"),
		nilIfEmpty(st.ProfilePicture), st.HasProfilePicture)
	return err
}

// SoftDeleteStudent stamps a record deleted.
func (r *Repository) SoftDeleteStudent(ctx context.Context, id, deletedBy string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET is_deleted = TRUE, deleted_by = $2, deleted_at = $3 WHERE id = $1
	`, id, deletedBy, at)
	return err
}

// RecoverStudent clears the deletion stamps.
func (r *Repository) RecoverStudent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET is_deleted = FALSE, deleted_by = NULL, deleted_at = NULL WHERE id = $1
	`, id)
	return err
}

// PermaDeleteStudent removes a graveyard row irreversibly.
func (r *Repository) PermaDeleteStudent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1 AND is_deleted`, id)
	return err
}

type snapshotPayload struct {
	Students  []Student `json:"students"`
	Graveyard []Student `json:"deleted_students"`
}

// ClearAll snapshots roster and graveyard, empties both, and stores the
// snapshot, all in one transaction. An existing snapshot is overwritten.
func (r *Repository) ClearAll(ctx context.Context, clearedBy string, at time.Time) (Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY created_at`)
	if err != nil {
		return Snapshot{}, err
	}
	var roster, graveyard []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			rows.Close()
			return Snapshot{}, err
		}
		if st.IsDeleted {
			graveyard = append(graveyard, st)
		} else {
			roster = append(roster, st)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	payload, err := json.Marshal(snapshotPayload{Students: roster, Graveyard: graveyard})
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cleared_snapshot (id, payload, cleared_by, cleared_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload = $1, cleared_by = $2, cleared_at = $3
	`, payload, clearedBy, at); err != nil {
		return Snapshot{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Students: roster, Graveyard: graveyard, ClearedBy: clearedBy, ClearedAt: at}, nil
}

// GetClearedSnapshot returns the stored snapshot, or nil when none exists.
func (r *Repository) GetClearedSnapshot(ctx context.Context) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT payload, cleared_by, cleared_at FROM cleared_snapshot WHERE id = 1`)
	var raw []byte
	var snap Snapshot
	if err := row.Scan(&raw, &snap.ClearedBy, &snap.ClearedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	snap.Students = payload.Students
	snap.Graveyard = payload.Graveyard
	return &snap, nil
}

// RecoverAll appends the snapshot contents back into the table and
// discards the snapshot, in one transaction.
func (r *Repository) RecoverAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT payload FROM cleared_snapshot WHERE id = 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return err
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	insert := func(st Student) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO students (`+studentColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, st.ID, st.Name, st.Age, st.Class, st.Roll,
			markArg(st.Marks, "math"), markArg(st.Marks, "science"),
			markArg(st.Marks, "history"), markArg(st.Marks, "english"),
			nilIfEmpty(st.ProfilePicture), st.HasProfilePicture, st.PasswordHash,
			st.AddedBy, st.CreatedAt, st.IsDeleted, nilIfEmpty(st.DeletedBy), st.DeletedAt)
		return err
	}
	for _, st := range payload.Students {
		if err := insert(st); err != nil {
			return err
		}
	}
	for _, st := range payload.Graveyard {
		if err := insert(st); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cleared_snapshot WHERE id = 1`); err != nil {
		return err
	}
	return tx.Commit()
}

// SetProfilePicture stores a profile picture for a live student.
func (r *Repository) SetProfilePicture(ctx context.Context, roll int, data string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE students SET profile_picture = $2, has_profile_picture = TRUE
		WHERE roll = $1 AND NOT is_deleted
	`, roll, data)
	return err
}

// GetProfilePicture returns a student's profile picture.
func (r *Repository) GetProfilePicture(ctx context.Context, roll int) (string, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT profile_picture, has_profile_picture FROM students
		WHERE roll = $1 AND NOT is_deleted
	`, roll)
	var pic sql.NullString
	var has bool
	if err := row.Scan(&pic, &has); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return pic.String, has, nil
}
