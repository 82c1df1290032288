package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory table for PutItem/GetItem/UpdateItem. It
// understands the handful of condition and update expressions the store uses.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
	putErr      error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func keyOf(attrs map[string]types.AttributeValue) (string, error) {
	k, ok := attrs["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return k.Value, nil
}

func num(av types.AttributeValue) int64 {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func str(av types.AttributeValue) string {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if existing, ok := m.table[k]; ok && params.ConditionExpression != nil {
		cond := *params.ConditionExpression
		expired := strings.Contains(cond, "expires_at < :now") &&
			num(existing["expires_at"]) < num(params.ExpressionAttributeValues[":now"])
		if !expired {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

// UpdateItem supports "#s = :x" conditions and "SET a = :x, ... ADD n :y" updates.
func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	resolve := func(name string) string {
		if n, ok := params.ExpressionAttributeNames[name]; ok {
			return n
		}
		return name
	}
	vals := params.ExpressionAttributeValues

	if params.ConditionExpression != nil {
		lhs, rhs, _ := strings.Cut(*params.ConditionExpression, " = ")
		if str(item[resolve(lhs)]) != str(vals[rhs]) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	item = copyItem(item)
	expr := strings.TrimPrefix(*params.UpdateExpression, "SET ")
	setPart, addPart, _ := strings.Cut(expr, " ADD ")
	for _, assign := range strings.Split(setPart, ", ") {
		name, val, _ := strings.Cut(assign, " = ")
		item[resolve(name)] = vals[val]
	}
	if addPart != "" {
		name, val, _ := strings.Cut(addPart, " ")
		sum := num(item[name]) + num(vals[val])
		item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(sum, 10)}
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}
