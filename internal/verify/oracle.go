// Package verify defines the image-verification capability the attendance
// ledger calls before deciding state transitions. The concrete algorithm
// lives behind the Oracle interface; the default implementation denies
// everything so the ledger stays testable without any image analysis.
package verify

import "context"

// Verdict is the oracle's decision for one attendance image.
type Verdict struct {
	Verified bool   `json:"verified"`
	Method   string `json:"method"`
	Reason   string `json:"reason"`
}

// ReasonOracleUnavailable marks verdicts produced when the oracle itself
// failed. The ledger treats such failures as non-verified, never as fatal.
const ReasonOracleUnavailable = "oracle_unavailable"

// Oracle verifies an attendance image against a student. "No match" is a
// negative verdict, not an error; errors are reserved for malformed input
// or infrastructure failure.
type Oracle interface {
	Verify(ctx context.Context, imageData string, roll int) (Verdict, error)
}

// Deny is the no-op oracle: every image requires manual verification.
type Deny struct{}

func (Deny) Verify(_ context.Context, _ string, _ int) (Verdict, error) {
	return Verdict{Verified: false, Method: "none", Reason: "verification_unavailable"}, nil
}
