package book

import "fmt"

// Reason classifies a non-fatal outcome returned to the caller.
// Validation reasons reject a command before any state mutation;
// concurrency reasons report a lost race against a terminal status.
type Reason string

const (
	ReasonInvalidInstrument  Reason = "INVALID_INSTRUMENT"
	ReasonInvalidQuantity    Reason = "INVALID_QUANTITY"
	ReasonInvalidPrice       Reason = "INVALID_PRICE"
	ReasonInsufficientFunds  Reason = "INSUFFICIENT_FUNDS"
	ReasonNoLiquidity        Reason = "NO_LIQUIDITY"
	ReasonStaleQuote         Reason = "STALE_QUOTE"
	ReasonNotFound           Reason = "NOT_FOUND"
	ReasonForbidden          Reason = "FORBIDDEN"
	ReasonNoOp               Reason = "NO_OP"
	ReasonServiceUnavailable Reason = "SERVICE_UNAVAILABLE"
)

// RejectionError carries a reason code across the dispatcher boundary.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func Reject(r Reason, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason code from err, or "" if err is not a rejection.
func ReasonOf(err error) Reason {
	if re, ok := err.(*RejectionError); ok {
		return re.Reason
	}
	return ""
}
