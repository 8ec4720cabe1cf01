package validation

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString accepts either a JSON string or a JSON number. Browsers post expiry
// fields and amounts both ways depending on the form widget.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Address is a postal address as posted by the checkout form.
type Address struct {
	Address string `json:"address" validate:"required,max=200"`
	City    string `json:"city" validate:"max=100"`
	State   string `json:"state" validate:"max=50"`
	ZipCode string `json:"zipCode" validate:"required,max=20"`
}

func (a *Address) trim() {
	a.Address = strings.TrimSpace(a.Address)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.ZipCode = strings.TrimSpace(a.ZipCode)
}

// Item represents a single order line item.
type Item struct {
	SKU      string     `json:"sku" validate:"required"`
	Name     string     `json:"name,omitempty"`
	Quantity int        `json:"quantity" validate:"required,min=1"`
	Price    FlexString `json:"price" validate:"required,amount"`
}

// CheckoutRequest is the payload for POST /checkout/charge.
type CheckoutRequest struct {
	OrderID         string     `json:"orderId" validate:"required,max=64,orderid"`
	CardNumber      string     `json:"cardNumber" validate:"required,cardnumber"`
	ExpiryMonth     FlexString `json:"expiryMonth" validate:"required,expmonth"`
	ExpiryYear      FlexString `json:"expiryYear" validate:"required,expyear"`
	CVV             string     `json:"cvv" validate:"required,cvv"`
	Amount          FlexString `json:"amount" validate:"required,amount"`
	ShippingAddress Address    `json:"shippingAddress"`
	BillingAddress  *Address   `json:"billingAddress,omitempty" validate:"omitempty"`
	SameAsShipping  bool       `json:"sameAsShipping,omitempty"`
	Items           []Item     `json:"items,omitempty" validate:"omitempty,dive"`
}

// normalize trims every free-text field and strips separators from the card number.
func (r *CheckoutRequest) normalize() {
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.CardNumber = stripCardSeparators(r.CardNumber)
	r.ExpiryMonth = FlexString(strings.TrimSpace(string(r.ExpiryMonth)))
	r.ExpiryYear = FlexString(strings.TrimSpace(string(r.ExpiryYear)))
	r.CVV = strings.TrimSpace(r.CVV)
	r.Amount = FlexString(strings.TrimSpace(string(r.Amount)))
	r.ShippingAddress.trim()
	if r.BillingAddress != nil {
		r.BillingAddress.trim()
	}
	for i := range r.Items {
		r.Items[i].SKU = strings.TrimSpace(r.Items[i].SKU)
		r.Items[i].Price = FlexString(strings.TrimSpace(string(r.Items[i].Price)))
	}
}

func stripCardSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
