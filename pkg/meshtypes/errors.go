package meshtypes

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers that only care "was this entity missing" should
// use errors.Is against these rather than switching on Category.
var (
	ErrPeerNotFound   = errors.New("peer not found")
	ErrIntentNotFound = errors.New("intent not found")
	ErrOfferNotFound  = errors.New("offer not found")
	ErrDealNotFound   = errors.New("deal not found")
)

// Category is the error taxonomy of spec.md section 7. Every error the
// coordination engine surfaces across a component boundary belongs to
// exactly one category.
type Category string

const (
	// CategoryValidation: malformed tool args. Surfaced synchronously; no state change.
	CategoryValidation Category = "validation_error"
	// CategoryProtocolReject: invalid MESH message; dropped by ingest, never
	// logged above debug.
	CategoryProtocolReject Category = "protocol_reject"
	// CategoryDuplicate: markProcessedMessage returned inserted=false.
	CategoryDuplicate Category = "duplicate"
	// CategoryPrecondition: intent not found/not pending, skill mismatch,
	// reputation too low, budget too low, replay detected.
	CategoryPrecondition Category = "precondition_failure"
	// CategoryVerification: verifyPayment returned ok:false at settle time.
	CategoryVerification Category = "verification_failure"
	// CategoryBackend: Store or Reputation call failed.
	CategoryBackend Category = "backend_error"
	// CategoryTransport: Transport send exhausted its retry budget.
	CategoryTransport Category = "transport_error"
)

// MeshError is a typed error carrying a taxonomy Category and an optional
// machine-readable Reason (e.g. one of acceptIntentOffer's or verifyPayment's
// fixed reason enumerations). It wraps an underlying sentinel or backend
// error where one exists, so errors.Is/errors.As still work across it.
type MeshError struct {
	Category Category
	Reason   string
	Message  string
	Err      error
}

func (e *MeshError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Category, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *MeshError) Unwrap() error { return e.Err }

func newErr(cat Category, reason, msg string, err error) *MeshError {
	return &MeshError{Category: cat, Reason: reason, Message: msg, Err: err}
}

// ValidationError reports malformed tool arguments.
func ValidationError(msg string) *MeshError {
	return newErr(CategoryValidation, "", msg, nil)
}

// ProtocolRejectError reports a wire message that failed parse/validate.
func ProtocolRejectError(msg string) *MeshError {
	return newErr(CategoryProtocolReject, "", msg, nil)
}

// PreconditionError reports a precondition failure with a machine-readable
// reason (e.g. "intent_not_pending", "skill_mismatch", "reputation_too_low").
func PreconditionError(reason, msg string) *MeshError {
	return newErr(CategoryPrecondition, reason, msg, nil)
}

// VerificationError reports a failed verifyPayment call; reason is one of
// the fixed verifyPayment reason enumeration.
func VerificationError(reason string) *MeshError {
	return newErr(CategoryVerification, reason, "payment verification failed", nil)
}

// BackendError wraps a Store/Reputation backend failure for propagation.
func BackendError(err error) *MeshError {
	return newErr(CategoryBackend, "", "backend call failed", err)
}

// TransportErrorf wraps a Transport send failure after retries are exhausted.
func TransportErrorf(err error) *MeshError {
	return newErr(CategoryTransport, "", "transport send failed", err)
}

// IsCategory reports whether err is a *MeshError of the given category.
func IsCategory(err error, cat Category) bool {
	var me *MeshError
	if errors.As(err, &me) {
		return me.Category == cat
	}
	return false
}
