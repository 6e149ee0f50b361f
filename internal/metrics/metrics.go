package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditEntries counts audit log entries by action.
	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolbook_audit_entries_total",
		Help: "Audit log entries appended, by action.",
	}, []string{"action"})

	// AttendanceAttempts counts verification attempts by verdict.
	AttendanceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolbook_attendance_attempts_total",
		Help: "Attendance verification attempts, by verdict.",
	}, []string{"verdict"})

	// OracleFailures counts oracle calls that degraded to an unverified verdict.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolbook_oracle_failures_total",
		Help: "Verification oracle calls that failed and were treated as unverified.",
	})
)
