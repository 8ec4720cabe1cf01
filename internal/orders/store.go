package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
)

var (
	// ErrOrderExists is returned by Create when the order id was already used.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound is returned by Resolve when no order row matches.
	ErrOrderNotFound = errors.New("order not found")
	// ErrTransactionConflict means the transaction id is already bound to a different order.
	ErrTransactionConflict = errors.New("transaction id belongs to another order")
	// ErrInvalidTransition is returned when Resolve is asked for a non-terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// maxTransactItems is DynamoDB's per-transaction action limit.
const maxTransactItems = 100

// Tables names the DynamoDB tables backing the store.
type Tables struct {
	Orders       string
	Items        string
	Transactions string
}

// Store encapsulates operations on the orders tables.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
	}
}

// Create atomically writes a pending order and its line items. The order id must be new.
func (s *Store) Create(ctx context.Context, order Order, items []LineItem) error {
	if len(items)+1 > maxTransactItems {
		return fmt.Errorf("too many line items: %d", len(items))
	}

	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Status = StatusPending

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}
	for i, it := range items {
		it.OrderID = order.OrderID
		it.LineNo = i + 1
		itemMap, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("marshal line item %d: %w", i, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.tables.Items, Item: itemMap},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce, 0) {
			return ErrOrderExists
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Resolve moves a pending order to a terminal status and binds the transaction id to it,
// in one transaction. Resolving an order that is already terminal is a no-op that returns
// the stored order with Applied=false.
func (s *Store) Resolve(ctx context.Context, r Resolution) (ResolveResult, error) {
	if !r.Status.IsTerminal() {
		return ResolveResult{}, fmt.Errorf("%w: pending -> %s", ErrInvalidTransition, r.Status)
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	link, err := attributevalue.MarshalMap(transactionLink{
		TransactionID: r.TransactionID,
		OrderID:       r.OrderID,
		CreatedAt:     s.nowFunc().UTC(),
	})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("marshal transaction link: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName: &s.tables.Orders,
				Key: map[string]types.AttributeValue{
					"order_id": &types.AttributeValueMemberS{Value: r.OrderID},
				},
				UpdateExpression: awsString("SET #s = :status, transaction_id = :tx, auth_code = :ac, response_text = :rt, " +
					"avs_result = :avs, cvv_result = :cvv, raw_payload = :raw, updated_at = :ua, resolved_at = :ua"),
				ConditionExpression:      awsString("attribute_exists(order_id) AND #s = :pending"),
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":status":  &types.AttributeValueMemberS{Value: string(r.Status)},
					":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
					":tx":      &types.AttributeValueMemberS{Value: r.TransactionID},
					":ac":      &types.AttributeValueMemberS{Value: r.AuthCode},
					":rt":      &types.AttributeValueMemberS{Value: r.ResponseText},
					":avs":     &types.AttributeValueMemberS{Value: r.AVSResult},
					":cvv":     &types.AttributeValueMemberS{Value: r.CVVResult},
					":raw":     &types.AttributeValueMemberS{Value: r.RawPayload},
					":ua":      &types.AttributeValueMemberS{Value: now},
				},
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tables.Transactions,
				Item:                link,
				ConditionExpression: awsString("attribute_not_exists(transaction_id) OR order_id = :oid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":oid": &types.AttributeValueMemberS{Value: r.OrderID},
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err == nil {
		o, err := s.Get(ctx, r.OrderID)
		if err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{Order: o, Applied: true}, nil
	}

	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return ResolveResult{}, fmt.Errorf("transact write: %w", err)
	}
	if conditionFailed(tce, 1) {
		return ResolveResult{}, ErrTransactionConflict
	}

	current, getErr := s.Get(ctx, r.OrderID)
	if getErr != nil {
		return ResolveResult{}, getErr
	}
	if current == nil {
		return ResolveResult{}, ErrOrderNotFound
	}
	if current.Status.IsTerminal() {
		return ResolveResult{Order: current, Applied: false}, nil
	}
	return ResolveResult{}, fmt.Errorf("resolve order %s: transaction canceled: %w", r.OrderID, err)
}

// conditionFailed reports whether the i-th action of a canceled transaction failed its condition.
func conditionFailed(tce *types.TransactionCanceledException, i int) bool {
	if i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
