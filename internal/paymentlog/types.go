package paymentlog

import "time"

// Result values recorded once a postback has been handled.
const (
	ResultReceived  = "RECEIVED"
	ResultApplied   = "APPLIED"
	ResultDuplicate = "DUPLICATE"
	ResultPending   = "LEFT_PENDING"
	ResultRejected  = "REJECTED"
	ResultError     = "ERROR"
)

// Entry is the shape persisted in the payment log DynamoDB table.
type Entry struct {
	EntryID       string    `dynamodbav:"entry_id"` // PK, sha256 of the raw body
	OrderID       string    `dynamodbav:"order_id,omitempty"`
	TransactionID string    `dynamodbav:"transaction_id,omitempty"`
	Outcome       string    `dynamodbav:"outcome,omitempty"`
	Format        string    `dynamodbav:"format,omitempty"`
	Payload       string    `dynamodbav:"payload"` // redacted
	ReducedTrust  bool      `dynamodbav:"reduced_trust"`
	Result        string    `dynamodbav:"result"`
	Note          string    `dynamodbav:"note,omitempty"`
	ReceivedAt    time.Time `dynamodbav:"received_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at"`
	ExpiresAt     int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
