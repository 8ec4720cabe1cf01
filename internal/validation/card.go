package validation

import (
	"fmt"
	"log/slog"
	"strings"
)

// CardInput is the normalized card. It is never persisted; every textual form masks it.
type CardInput struct {
	Number      string
	ExpiryMonth int
	// ExpiryYear is always four digits (20YY).
	ExpiryYear int
	CVV        string
}

// Last4 returns the last four digits of the card number.
func (c CardInput) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// MaskedNumber masks all but the last four digits.
func (c CardInput) MaskedNumber() string {
	if len(c.Number) <= 4 {
		return strings.Repeat("*", len(c.Number))
	}
	return strings.Repeat("*", len(c.Number)-4) + c.Last4()
}

// WireMonth is the two-digit month sent to the processor.
func (c CardInput) WireMonth() string { return fmt.Sprintf("%02d", c.ExpiryMonth) }

// WireYear is the two-digit year sent to the processor.
func (c CardInput) WireYear() string { return fmt.Sprintf("%02d", c.ExpiryYear%100) }

func (c CardInput) String() string {
	return fmt.Sprintf("card %s exp %s/%d cvv ***", c.MaskedNumber(), c.WireMonth(), c.ExpiryYear)
}

func (c CardInput) GoString() string { return c.String() }

func (c CardInput) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("number", c.MaskedNumber()),
		slog.String("expiry", c.WireMonth()+"/"+c.WireYear()),
		slog.String("cvv", "***"),
	)
}

func (c CardInput) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"number":%q,"cvv":"***"}`, c.MaskedNumber())), nil
}
