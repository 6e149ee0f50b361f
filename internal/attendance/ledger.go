package attendance

import (
	"context"
	"log"
	"time"

	"schoolbook/internal/apperr"
	"schoolbook/internal/audit"
	"schoolbook/internal/metrics"
	"schoolbook/internal/verify"
)

// Final statuses of a per-(roll, date) attendance record.
const (
	StatusPending = "pending"
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// MaxAttempts bounds the user-driven verification retries per day.
const MaxAttempts = 3

// VerifiedByOracle marks records auto-verified by the oracle rather than
// by a teacher or principal.
const VerifiedByOracle = "ai_verification"

// DateFormat is the calendar-day key format.
const DateFormat = "2006-01-02"

// Attempt is one verification try, kept with its image for later teacher
// inspection and for the oracle's historical-similarity heuristic.
type Attempt struct {
	Timestamp time.Time      `json:"timestamp"`
	ImageData string         `json:"image_data"`
	Verdict   verify.Verdict `json:"verification_result"`
	Number    int            `json:"attempt_number"`
}

// Record is the attendance state for one student on one day.
type Record struct {
	StudentRoll       int        `json:"student_roll"`
	Date              string     `json:"date"`
	IsPresent         bool       `json:"is_present"`
	ImageData         string     `json:"image_data,omitempty"`
	VerifiedBy        string     `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	AttemptHistory    []Attempt  `json:"attempt_history"`
	FinalStatus       string     `json:"final_status"`
}

func newRecord(roll int, date string) Record {
	return Record{
		StudentRoll:       roll,
		Date:              date,
		AttemptsRemaining: MaxAttempts,
		FinalStatus:       StatusPending,
	}
}

// Store is the persistence collaborator for attendance records. Dates are
// YYYY-MM-DD strings; range queries are inclusive on both ends.
type Store interface {
	UpsertAttendanceRecord(ctx context.Context, rec Record) error
	GetAttendanceRecord(ctx context.Context, roll int, date string) (*Record, error)
	GetAttendanceRange(ctx context.Context, roll int, start, end string) ([]Record, error)
	GetAttendanceImages(ctx context.Context, roll, limit int) ([]string, error)
}

// Ledger runs the daily attendance-capture state machine. Every mutation
// is audited; the oracle call is synchronous and its failure degrades to
// an unverified verdict instead of blocking the workflow.
type Ledger struct {
	store  Store
	oracle verify.Oracle
	log    *audit.Service
}

// NewLedger creates a ledger. A nil oracle falls back to deny-all.
func NewLedger(store Store, oracle verify.Oracle, log *audit.Service) *Ledger {
	if oracle == nil {
		oracle = verify.Deny{}
	}
	return &Ledger{store: store, oracle: oracle, log: log}
}

type attemptPayload struct {
	StudentRoll       int            `json:"student_roll"`
	Date              string         `json:"date"`
	Verdict           verify.Verdict `json:"verification_result"`
	AttemptNumber     int            `json:"attempt_number"`
	AttemptsRemaining int            `json:"attempts_remaining"`
}

type statusPayload struct {
	StudentRoll int    `json:"student_roll"`
	Date        string `json:"date"`
	PriorStatus string `json:"prior_status,omitempty"`
	NewStatus   string `json:"new_status,omitempty"`
}

func (l *Ledger) getOrDefault(ctx context.Context, roll int, date string) (Record, error) {
	rec, err := l.store.GetAttendanceRecord(ctx, roll, date)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return newRecord(roll, date), nil
	}
	return *rec, nil
}

// SubmitAttempt runs one verification attempt for the student's day. The
// image is persisted regardless of the verdict.
func (l *Ledger) SubmitAttempt(ctx context.Context, roll int, date, imageData string, actor audit.Actor) (verify.Verdict, Record, error) {
	if imageData == "" {
		return verify.Verdict{}, Record{}, apperr.Validation("image data is required")
	}
	rec, err := l.getOrDefault(ctx, roll, date)
	if err != nil {
		return verify.Verdict{}, Record{}, err
	}
	if rec.FinalStatus == StatusPresent {
		return verify.Verdict{}, Record{}, apperr.Conflict("attendance already marked present for this date")
	}
	if rec.AttemptsRemaining <= 0 {
		return verify.Verdict{}, Record{}, apperr.LimitExceeded("all %d attempts used, contact your principal for manual attendance", MaxAttempts)
	}

	verdict, err := l.oracle.Verify(ctx, imageData, roll)
	if err != nil {
		// Infrastructure unavailability must not block the workflow,
		// only its automatic fast path.
		log.Printf("verification oracle failed for roll %d: %v", roll, err)
		metrics.OracleFailures.Inc()
		verdict = verify.Verdict{Verified: false, Method: "service", Reason: verify.ReasonOracleUnavailable}
	}

	now := time.Now().UTC()
	number := MaxAttempts + 1 - rec.AttemptsRemaining // 1, 2 or 3
	rec.AttemptHistory = append(rec.AttemptHistory, Attempt{
		Timestamp: now,
		ImageData: imageData,
		Verdict:   verdict,
		Number:    number,
	})
	rec.AttemptsRemaining--
	rec.ImageData = imageData
	rec.IsPresent = verdict.Verified

	switch {
	case verdict.Verified:
		rec.FinalStatus = StatusPresent
		rec.VerifiedBy = VerifiedByOracle
		rec.VerifiedAt = &now
	case rec.AttemptsRemaining == 0:
		rec.FinalStatus = StatusAbsent
	default:
		rec.FinalStatus = StatusPending
	}

	if err := l.store.UpsertAttendanceRecord(ctx, rec); err != nil {
		return verify.Verdict{}, Record{}, err
	}

	label := "unverified"
	if verdict.Verified {
		label = "verified"
	}
	metrics.AttendanceAttempts.WithLabelValues(label).Inc()

	if _, err := l.log.Record(ctx, audit.ActionAttendanceAttempt, actor, attemptPayload{
		StudentRoll:       roll,
		Date:              date,
		Verdict:           verdict,
		AttemptNumber:     number,
		AttemptsRemaining: rec.AttemptsRemaining,
	}); err != nil {
		return verify.Verdict{}, Record{}, err
	}
	return verdict, rec, nil
}

// Verify lets a teacher or principal force the day present. It never
// consumes attempts.
func (l *Ledger) Verify(ctx context.Context, roll int, date string, actor audit.Actor) (Record, error) {
	if actor.Role != audit.RoleTeacher && actor.Role != audit.RolePrincipal {
		return Record{}, apperr.Permission("only teachers and principals can verify attendance")
	}
	rec, err := l.getOrDefault(ctx, roll, date)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec.IsPresent = true
	rec.FinalStatus = StatusPresent
	rec.VerifiedBy = actor.Name
	rec.VerifiedAt = &now

	if err := l.store.UpsertAttendanceRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	if _, err := l.log.Record(ctx, audit.ActionVerifyAttendance, actor, statusPayload{
		StudentRoll: roll,
		Date:        date,
		NewStatus:   StatusPresent,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Override forces the final status, principal only. It is authoritative
// regardless of remaining attempts; the prior status is logged.
func (l *Ledger) Override(ctx context.Context, roll int, date, newStatus string, actor audit.Actor) (Record, error) {
	if actor.Role != audit.RolePrincipal {
		return Record{}, apperr.Permission("only the principal can override attendance")
	}
	if newStatus != StatusPresent && newStatus != StatusAbsent {
		return Record{}, apperr.Validation("status must be present or absent")
	}
	rec, err := l.getOrDefault(ctx, roll, date)
	if err != nil {
		return Record{}, err
	}

	prior := rec.FinalStatus
	now := time.Now().UTC()
	rec.FinalStatus = newStatus
	rec.IsPresent = newStatus == StatusPresent
	rec.VerifiedBy = actor.Name
	rec.VerifiedAt = &now

	if err := l.store.UpsertAttendanceRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	if _, err := l.log.Record(ctx, audit.ActionOverrideAttendance, actor, statusPayload{
		StudentRoll: roll,
		Date:        date,
		PriorStatus: prior,
		NewStatus:   newStatus,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// RequestNewImage clears the stored image and resets the day to pending
// so the student can capture again. A disputed image does not grant extra
// tries, so attempts are left untouched.
func (l *Ledger) RequestNewImage(ctx context.Context, roll int, date string, actor audit.Actor) error {
	if actor.Role != audit.RoleTeacher && actor.Role != audit.RolePrincipal {
		return apperr.Permission("only teachers and principals can request new images")
	}
	rec, err := l.store.GetAttendanceRecord(ctx, roll, date)
	if err != nil {
		return err
	}
	if rec != nil {
		rec.ImageData = ""
		rec.IsPresent = false
		rec.FinalStatus = StatusPending
		rec.VerifiedBy = ""
		rec.VerifiedAt = nil
		if err := l.store.UpsertAttendanceRecord(ctx, *rec); err != nil {
			return err
		}
	}
	_, err = l.log.Record(ctx, audit.ActionRequestNewImage, actor, statusPayload{
		StudentRoll: roll,
		Date:        date,
	})
	return err
}

// Attempts returns the day's record, or the default (three attempts,
// pending, empty history) when nothing was recorded yet.
func (l *Ledger) Attempts(ctx context.Context, roll int, date string) (Record, error) {
	return l.getOrDefault(ctx, roll, date)
}

// Image returns the stored attendance image for a day.
func (l *Ledger) Image(ctx context.Context, roll int, date string) (string, error) {
	rec, err := l.store.GetAttendanceRecord(ctx, roll, date)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.ImageData == "" {
		return "", apperr.NotFound("attendance image not found")
	}
	return rec.ImageData, nil
}

// History returns the records of the trailing days window, today included.
func (l *Ledger) History(ctx context.Context, roll, days int) ([]Record, error) {
	if days <= 0 {
		days = 30
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(days - 1))
	return l.store.GetAttendanceRange(ctx, roll, start.Format(DateFormat), end.Format(DateFormat))
}

// Calendar splits a month into present and uploaded-but-unverified dates.
// The month parameter is zero-based, as sent by the calendar widget.
func (l *Ledger) Calendar(ctx context.Context, roll, year, month int) (present, uploaded []string, err error) {
	first := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	recs, err := l.store.GetAttendanceRange(ctx, roll, first.Format(DateFormat), last.Format(DateFormat))
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range recs {
		switch {
		case rec.FinalStatus == StatusPresent || rec.IsPresent:
			present = append(present, rec.Date)
		case rec.ImageData != "" || len(rec.AttemptHistory) > 0:
			uploaded = append(uploaded, rec.Date)
		}
	}
	return present, uploaded, nil
}

// AttendancePercentage computes the share of recorded days in the window
// on which the student was present.
func (l *Ledger) AttendancePercentage(ctx context.Context, roll, days int) (float64, error) {
	recs, err := l.History(ctx, roll, days)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	var presentDays int
	for _, rec := range recs {
		if rec.FinalStatus == StatusPresent || rec.IsPresent {
			presentDays++
		}
	}
	pct := float64(presentDays) / float64(len(recs)) * 100
	return float64(int(pct*10+0.5)) / 10, nil
}
