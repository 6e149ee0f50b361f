package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const attendanceColumns = `student_roll, to_char(date, 'YYYY-MM-DD'), is_present, image_data,
	verified_by, verified_at, attempts_remaining, attempt_history, final_status`

func scanRecord(row interface{ Scan(dest ...any) error }) (Record, error) {
	var rec Record
	var image, verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	var history []byte
	err := row.Scan(&rec.StudentRoll, &rec.Date, &rec.IsPresent, &image,
		&verifiedBy, &verifiedAt, &rec.AttemptsRemaining, &history, &rec.FinalStatus)
	if err != nil {
		return Record{}, err
	}
	rec.ImageData = image.String
	rec.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.AttemptHistory); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// UpsertAttendanceRecord writes the day's record, keyed by (roll, date).
func (r *Repository) UpsertAttendanceRecord(ctx context.Context, rec Record) error {
	history, err := json.Marshal(rec.AttemptHistory)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance (student_roll, date, is_present, image_data, verified_by, verified_at,
			attempts_remaining, attempt_history, final_status)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_roll, date) DO UPDATE SET
			is_present = EXCLUDED.is_present,
			image_data = EXCLUDED.image_data,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at,
			attempts_remaining = EXCLUDED.attempts_remaining,
			attempt_history = EXCLUDED.attempt_history,
			final_status = EXCLUDED.final_status
	`, rec.StudentRoll, rec.Date, rec.IsPresent, nilIfEmpty(rec.ImageData),
		nilIfEmpty(rec.VerifiedBy), rec.VerifiedAt, rec.AttemptsRemaining, history, rec.FinalStatus)
	return err
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetAttendanceRecord returns the record for one student and day.
func (r *Repository) GetAttendanceRecord(ctx context.Context, roll int, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE student_roll = $1 AND date = $2::date
	`, roll, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetAttendanceRange returns records between start and end inclusive,
// newest first.
func (r *Repository) GetAttendanceRange(ctx context.Context, roll int, start, end string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE student_roll = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date DESC
	`, roll, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// GetAttendanceImages returns the most recent stored images for a student,
// for the oracle's historical-similarity heuristic.
func (r *Repository) GetAttendanceImages(ctx context.Context, roll, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT image_data FROM attendance
		WHERE student_roll = $1 AND image_data IS NOT NULL
		ORDER BY date DESC
		LIMIT $2
	`, roll, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var img string
		if err := rows.Scan(&img); err != nil {
			return nil, err
		}
		if img != "" {
			res = append(res, img)
		}
	}
	return res, rows.Err()
}
