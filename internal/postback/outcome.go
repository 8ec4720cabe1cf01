package postback

import (
	"strings"

	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
)

// Outcome is the processor's verdict on an authorization.
type Outcome int

const (
	OutcomeIndeterminate Outcome = iota
	OutcomeApproved
	OutcomeDeclined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeDeclined:
		return "declined"
	default:
		return "indeterminate"
	}
}

// outcomeCodes maps lower-cased Success codes to outcomes.
var outcomeCodes = map[string]Outcome{
	"y":        OutcomeApproved,
	"approved": OutcomeApproved,
	"n":        OutcomeDeclined,
	"declined": OutcomeDeclined,
	"u":        OutcomeIndeterminate,
	"e":        OutcomeIndeterminate,
	"error":    OutcomeIndeterminate,
}

// ParseOutcome maps a Success code. known is false for codes outside the table, which are
// treated as indeterminate.
func ParseOutcome(code string) (o Outcome, known bool) {
	o, known = outcomeCodes[strings.ToLower(strings.TrimSpace(code))]
	return o, known
}

// outcomeStatus is the terminal order status each outcome moves a pending order to.
var outcomeStatus = map[Outcome]orders.Status{
	OutcomeApproved: orders.StatusPaid,
	OutcomeDeclined: orders.StatusFailed,
}

// OrderStatus returns the status an outcome resolves to; ok is false for indeterminate outcomes.
func (o Outcome) OrderStatus() (orders.Status, bool) {
	s, ok := outcomeStatus[o]
	return s, ok
}
