// Package awstest provides in-memory stand-ins for the AWS clients used by the service.
// The DynamoDB double understands only the condition and update expressions our stores emit.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	hashKey  string
	rangeKey string
	items    map[string]map[string]types.AttributeValue
}

// Dynamo is a small in-memory DynamoDB supporting PutItem, GetItem, UpdateItem and TransactWriteItems.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	// Err, when set, is returned by every call (simulates an unavailable store).
	Err error

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	TransactCalls int
}

func NewDynamo() *Dynamo {
	return &Dynamo{tables: map[string]*table{}}
}

// CreateTable registers a table. rangeKey may be empty.
func (d *Dynamo) CreateTable(name, hashKey, rangeKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{hashKey: hashKey, rangeKey: rangeKey, items: map[string]map[string]types.AttributeValue{}}
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(tableName string, key ...string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[strings.Join(key, "|")]
	if !ok {
		return nil
	}
	return cloneItem(item)
}

// Count returns the number of items in a table.
func (d *Dynamo) Count(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PutCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	t, pk, err := d.keyFor(in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}
	t.items[pk] = cloneItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GetCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	t, pk, err := d.keyFor(in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	t, pk, err := d.keyFor(in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[pk]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}
	updated, err := applyUpdate(current, in.Key, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[pk] = updated
	return &dyn.UpdateItemOutput{Attributes: cloneItem(updated)}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TransactCalls++
	if d.Err != nil {
		return nil, d.Err
	}

	type write struct {
		t    *table
		pk   string
		item map[string]types.AttributeValue
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false

	// first pass: evaluate every condition against the pre-transaction state
	for i, it := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: awsString("None")}
		switch {
		case it.Put != nil:
			p := it.Put
			t, pk, err := d.keyFor(p.TableName, p.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, t.items[pk])
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: awsString("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{t: t, pk: pk, item: cloneItem(p.Item)})
		case it.Update != nil:
			u := it.Update
			t, pk, err := d.keyFor(u.TableName, u.Key)
			if err != nil {
				return nil, err
			}
			current := t.items[pk]
			ok, err := evalCondition(u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues, current)
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: awsString("ConditionalCheckFailed")}
				continue
			}
			updated, err := applyUpdate(current, u.Key, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{t: t, pk: pk, item: updated})
		default:
			return nil, errors.New("awstest: unsupported transact item")
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             awsString("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		w.t.items[w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) keyFor(tableName *string, item map[string]types.AttributeValue) (*table, string, error) {
	if tableName == nil {
		return nil, "", errors.New("awstest: missing table name")
	}
	t, ok := d.tables[*tableName]
	if !ok {
		return nil, "", fmt.Errorf("awstest: unknown table %q", *tableName)
	}
	hash, ok := scalar(item[t.hashKey])
	if !ok {
		return nil, "", fmt.Errorf("awstest: missing hash key %q", t.hashKey)
	}
	if t.rangeKey == "" {
		return t, hash, nil
	}
	rng, ok := scalar(item[t.rangeKey])
	if !ok {
		return nil, "", fmt.Errorf("awstest: missing range key %q", t.rangeKey)
	}
	return t, hash + "|" + rng, nil
}

// evalCondition supports clauses joined by a single kind of connective:
// attribute_exists(a), attribute_not_exists(a), a = :v, a <> :v.
func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	e := *expr
	if strings.Contains(e, " OR ") {
		for _, clause := range strings.Split(e, " OR ") {
			ok, err := evalClause(clause, names, values, item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, clause := range strings.Split(e, " AND ") {
		ok, err := evalClause(clause, names, values, item)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	clause = strings.TrimSpace(clause)
	switch {
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
		_, exists := item[attr]
		return !exists, nil
	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
		_, exists := item[attr]
		return exists, nil
	}

	op := " = "
	negate := false
	if strings.Contains(clause, " <> ") {
		op = " <> "
		negate = true
	}
	parts := strings.SplitN(clause, op, 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("awstest: unsupported condition %q", clause)
	}
	attr := resolveName(strings.TrimSpace(parts[0]), names)
	want, ok := values[strings.TrimSpace(parts[1])]
	if !ok {
		return false, fmt.Errorf("awstest: missing value %q", parts[1])
	}
	got, exists := item[attr]
	if !exists {
		return negate, nil
	}
	gs, _ := scalar(got)
	ws, _ := scalar(want)
	return (gs == ws) != negate, nil
}

// applyUpdate supports "SET a = :v, #b = :w".
func applyUpdate(current, key map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := cloneItem(current)
	if out == nil {
		out = cloneItem(key)
	}
	if expr == nil {
		return out, nil
	}
	e := strings.TrimSpace(*expr)
	if !strings.HasPrefix(e, "SET ") {
		return nil, fmt.Errorf("awstest: unsupported update %q", e)
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(e, "SET "), ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("awstest: unsupported assignment %q", assignment)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		v, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %q", parts[1])
		}
		out[attr] = v
	}
	return out, nil
}

func resolveName(n string, names map[string]string) string {
	n = strings.TrimSpace(n)
	if strings.HasPrefix(n, "#") {
		if real, ok := names[n]; ok {
			return real
		}
	}
	return n
}

func scalar(av types.AttributeValue) (string, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		return v.Value, true
	default:
		return "", false
	}
}

func cloneItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	if in == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func awsString(s string) *string { return &s }
