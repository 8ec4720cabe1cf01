package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ValidationError reports malformed client input. Field names the first offending input using
// its JSON path (e.g. "shippingAddress.zipCode"); Fields carries every failure found.
type ValidationError struct {
	Field   string
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// LineItem is a validated order line.
type LineItem struct {
	SKU      string
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// Checkout is a fully normalized charge request.
type Checkout struct {
	OrderID  string
	Card     CardInput
	Amount   decimal.Decimal
	Shipping Address
	Billing  Address
	Items    []LineItem
}

// FormattedAmount is the amount as sent on the wire ("9.50").
func (c *Checkout) FormattedAmount() string { return FormatAmount(c.Amount) }

// Validate normalizes req and checks every field. now is used for the expiry comparison,
// which is done in UTC calendar months.
func Validate(v *validatorv10.Validate, req CheckoutRequest, now time.Time) (*Checkout, error) {
	req.normalize()

	if err := v.Struct(req); err != nil {
		var ve validatorv10.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return nil, toValidationError(ve)
		}
		return nil, &ValidationError{Field: "request", Message: err.Error()}
	}

	month, _ := parseMonth(string(req.ExpiryMonth))
	year, _ := normalizeYear(string(req.ExpiryYear))
	utc := now.UTC()
	if year < utc.Year() || (year == utc.Year() && month < int(utc.Month())) {
		return nil, &ValidationError{
			Field:   "expiry",
			Message: "card has expired",
			Fields:  map[string]string{"expiry": "card has expired"},
		}
	}

	amount, _ := parseAmount(string(req.Amount))

	billing := req.ShippingAddress
	if !req.SameAsShipping && req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		price, _ := parseAmount(string(it.Price))
		items = append(items, LineItem{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, Price: price})
	}

	return &Checkout{
		OrderID: req.OrderID,
		Card: CardInput{
			Number:      req.CardNumber,
			ExpiryMonth: month,
			ExpiryYear:  year,
			CVV:         req.CVV,
		},
		Amount:   amount,
		Shipping: req.ShippingAddress,
		Billing:  billing,
		Items:    items,
	}, nil
}

func toValidationError(ve validatorv10.ValidationErrors) *ValidationError {
	out := &ValidationError{Fields: map[string]string{}}
	for i, fe := range ve {
		field := fieldPath(fe.Namespace())
		msg := fieldMessage(field, fe.Tag())
		if _, seen := out.Fields[field]; !seen {
			out.Fields[field] = msg
		}
		if i == 0 {
			out.Field = field
			out.Message = msg
		}
	}
	return out
}

// fieldPath drops the root struct name: "CheckoutRequest.shippingAddress.zipCode" -> "shippingAddress.zipCode".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(field, tag string) string {
	if tag == "required" {
		return field + " is required"
	}
	switch tag {
	case "cardnumber":
		return "card number must be 15 or 16 digits and pass the checksum"
	case "cvv":
		return "CVV must be 3 or 4 digits"
	case "expmonth":
		return "expiry month must be between 1 and 12"
	case "expyear":
		return "expiry year must be 2 or 4 digits"
	case "amount":
		return "amount must be a positive value with at most two decimal places"
	case "orderid":
		return "order id contains unsupported characters"
	case "max":
		return field + " is too long"
	case "min":
		return field + " is too small"
	default:
		return field + " is invalid"
	}
}
