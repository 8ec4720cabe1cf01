package orders

import "time"

// Status is the payment status of an order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusDeclined Status = "declined"
	StatusFailed   Status = "failed"
	// StatusTimeout is only ever observed by clients; it is never written to the store.
	StatusTimeout Status = "timeout"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusDeclined:
		return true
	}
	return false
}

// Address mirrors the checkout form address.
type Address struct {
	Address string `dynamodbav:"address" json:"address"`
	City    string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	State   string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	ZipCode string `dynamodbav:"zip_code" json:"zipCode"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID       string     `dynamodbav:"order_id"` // PK
	Amount        string     `dynamodbav:"amount"`   // two fractional digits, e.g. "9.50"
	Shipping      Address    `dynamodbav:"shipping_address"`
	Billing       Address    `dynamodbav:"billing_address"`
	CardLast4     string     `dynamodbav:"card_last4,omitempty"`
	Status        Status     `dynamodbav:"status"`
	TransactionID string     `dynamodbav:"transaction_id,omitempty"`
	AuthCode      string     `dynamodbav:"auth_code,omitempty"`
	ResponseText  string     `dynamodbav:"response_text,omitempty"`
	AVSResult     string     `dynamodbav:"avs_result,omitempty"`
	CVVResult     string     `dynamodbav:"cvv_result,omitempty"`
	RawPayload    string     `dynamodbav:"raw_payload,omitempty"` // redacted processor payload
	CreatedAt     time.Time  `dynamodbav:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at"`
	ResolvedAt    *time.Time `dynamodbav:"resolved_at,omitempty"`
}

// LineItem is stored in the order_items table (PK order_id, SK line_no).
type LineItem struct {
	OrderID  string `dynamodbav:"order_id"`
	LineNo   int    `dynamodbav:"line_no"`
	SKU      string `dynamodbav:"sku"`
	Name     string `dynamodbav:"name,omitempty"`
	Quantity int    `dynamodbav:"quantity"`
	Price    string `dynamodbav:"price"`
}

// Resolution is the outcome of a postback applied to one order.
type Resolution struct {
	OrderID       string
	TransactionID string
	Status        Status // StatusPaid or StatusFailed
	AuthCode      string
	ResponseText  string
	AVSResult     string
	CVVResult     string
	RawPayload    string
}

// ResolveResult reports the order after Resolve. Applied is false when the order was
// already terminal and nothing was written.
type ResolveResult struct {
	Order   *Order
	Applied bool
}

// transactionLink binds a processor transaction id to exactly one order.
type transactionLink struct {
	TransactionID string    `dynamodbav:"transaction_id"` // PK
	OrderID       string    `dynamodbav:"order_id"`
	CreatedAt     time.Time `dynamodbav:"created_at"`
}
