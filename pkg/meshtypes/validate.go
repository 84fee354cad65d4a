package meshtypes

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DefaultMaxIntentDeadlineSeconds and DefaultMaxPayloadBytes are the coordinator-boundary
// defaults of spec.md section 4.E; config may override both.
const (
	DefaultMaxIntentDeadlineSeconds = 3600
	DefaultMaxPayloadBytes          = 16 * 1024
)

// ValidateNew checks an about-to-be-broadcast intent against the
// coordinator-boundary rules of section 4.E: budget/deadline/payload size.
// now and limits are passed in explicitly so callers (tool path, tests)
// share one validator instead of re-deriving the same arithmetic.
func (in *Intent) ValidateNew(now int64, maxDeadlineSeconds int64, maxPayloadBytes int) error {
	if in.Skill == "" {
		return fmt.Errorf("intent validation failed: skill is required")
	}
	budget, err := ParseDecimal(in.Budget)
	if err != nil || budget <= 0 || math.IsInf(budget, 0) || math.IsNaN(budget) {
		return fmt.Errorf("intent validation failed: budget must be a finite positive decimal")
	}
	if in.Deadline <= now {
		return fmt.Errorf("intent validation failed: deadline must be in the future")
	}
	if maxDeadlineSeconds > 0 && in.Deadline-now > maxDeadlineSeconds {
		return fmt.Errorf("intent validation failed: deadline exceeds maxIntentDeadlineSeconds")
	}
	if in.MinReputation < 0 {
		return fmt.Errorf("intent validation failed: minReputation must be >= 0")
	}
	if maxPayloadBytes > 0 {
		b, err := json.Marshal(in.Payload)
		if err != nil {
			return fmt.Errorf("intent validation failed: payload not JSON-serializable: %w", err)
		}
		if len(b) > maxPayloadBytes {
			return fmt.Errorf("intent validation failed: payload exceeds maxPayloadBytes")
		}
	}
	return nil
}

// ValidateOffer checks a candidate offer against the owning intent's budget
// per the invariant in section 3: 0 < fee <= intent.budget at offer time.
func (in *Intent) ValidateOffer(fee string) error {
	f, err := ParseDecimal(fee)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("offer validation failed: fee must be a finite positive decimal")
	}
	budget, err := ParseDecimal(in.Budget)
	if err != nil {
		return fmt.Errorf("offer validation failed: intent budget is malformed")
	}
	if f > budget {
		return fmt.Errorf("offer validation failed: fee exceeds intent budget")
	}
	return nil
}

// ValidateRating checks the coordinator-boundary rules on the settle tool's
// rating argument: an integer in [1..10].
func ValidateRating(rating int64) error {
	if rating < 1 || rating > 10 {
		return fmt.Errorf("settle validation failed: rating must be in [1..10]")
	}
	return nil
}

// ParseDecimal parses a spec.md decimal-string amount. Amounts are stored
// internally as fixed-precision numeric in a real SQL backend; the in-process
// representation here is float64, which is sufficient for the comparisons
// and ranking arithmetic the coordination engine performs (it never sums
// many small amounts into a running ledger balance).
func ParseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	return strconv.ParseFloat(s, 64)
}
