// Package paymentlog keeps an append-only audit trail of processor postbacks.
package paymentlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
)

var (
	ErrEntryNotFound = errors.New("payment log entry not found")
	// ErrApplied is returned when marking an entry whose postback already changed the order.
	ErrApplied = errors.New("payment log entry already applied")
)

// Store encapsulates payment log operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // retention of audit entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long entries are retained before DynamoDB TTL removes them (e.g. 90 days).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// EntryID derives the log key from the raw body, so a byte-identical redelivery maps to the same entry.
func EntryID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Append stores e if no entry with the same id exists.
// Returns (created=true, nil) for a first delivery and (created=false, nil) for an exact redelivery.
func (s *Store) Append(ctx context.Context, e Entry) (bool, error) {
	now := s.nowFunc().UTC()
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
	e.UpdatedAt = now
	if e.Result == "" {
		e.Result = ResultReceived
	}
	e.ExpiresAt = now.Add(s.ttlWindow).Unix()

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return false, fmt.Errorf("marshal entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(entry_id)"),
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves an entry by id. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, entryID string) (*Entry, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"entry_id": &types.AttributeValueMemberS{Value: entryID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &e, nil
}

// MarkResult records how the postback was handled. An entry already recorded as APPLIED keeps
// that result: a later call returns ErrApplied and changes nothing.
func (s *Store) MarkResult(ctx context.Context, entryID, result, note string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"entry_id": &types.AttributeValueMemberS{Value: entryID},
		},
		UpdateExpression: awsString("SET #r = :result, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#r": "result",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":result":  &types.AttributeValueMemberS{Value: result},
			":n":       &types.AttributeValueMemberS{Value: note},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":applied": &types.AttributeValueMemberS{Value: ResultApplied},
		},
		ConditionExpression: awsString("attribute_exists(entry_id) AND #r <> :applied"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err == nil {
		return nil
	}
	var sc smithy.APIError
	if !errors.As(err, &sc) || sc.ErrorCode() != "ConditionalCheckFailedException" {
		return fmt.Errorf("update item (mark result): %w", err)
	}

	e, gerr := s.Get(ctx, entryID)
	switch {
	case gerr != nil:
		return fmt.Errorf("mark result: %w", gerr)
	case e == nil:
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	default:
		return ErrApplied
	}
}

func awsString(s string) *string { return &s }
