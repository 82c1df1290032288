package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-checkout-payments/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a key is remembered
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ErrConditionFailed indicates a conditional write lost against a concurrent writer.
var ErrConditionFailed = errors.New("conditional check failed")

// Acquire claims key for the caller. It returns acquired=true with a fresh
// IN_PROGRESS record when the key is new, expired, or left FAILED by an
// earlier attempt. Otherwise it returns the current record, which is either
// DONE (replay it) or IN_PROGRESS (someone else holds it).
func (s *Store) Acquire(ctx context.Context, key, resourceID string) (*Record, bool, error) {
	now := s.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		ResourceID:     resourceID,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record: %w", err)
	}

	// DynamoDB removes expired items lazily, so an expired entry counts as absent.
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return &rec, true, nil
	}
	if !isConditionFailed(err) {
		return nil, false, fmt.Errorf("put item: %w", err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("record %s vanished after conditional put: %w", key, ErrConditionFailed)
	}
	if existing.Status != StatusFailed {
		return existing, false, nil
	}

	reclaimed, err := s.reclaim(ctx, key)
	if errors.Is(err, ErrConditionFailed) {
		// another caller reclaimed it first
		current, gerr := s.Get(ctx, key)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return reclaimed, true, nil
}

// reclaim moves a FAILED record back to IN_PROGRESS.
func (s *Store) reclaim(ctx context.Context, key string) (*Record, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :inprogress, updated_at = :ua, expires_at = :exp ADD attempts :one"),
		ConditionExpression: awsString("#s = :failed"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":exp":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
			":one":        &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("update item (reclaim): %w", err)
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone moves an IN_PROGRESS record to DONE and stores the response to replay.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.finish(ctx, key, "SET #s = :to, response_body = :rb, response_status = :rs, updated_at = :ua",
		map[string]types.AttributeValue{
			":to": &types.AttributeValueMemberS{Value: StatusDone},
			":rb": &types.AttributeValueMemberS{Value: responseBody},
			":rs": &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
		})
}

// MarkFailed moves an IN_PROGRESS record to FAILED so a later attempt may reclaim it.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, "SET #s = :to, note = :n, updated_at = :ua",
		map[string]types.AttributeValue{
			":to": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":  &types.AttributeValueMemberS{Value: note},
		})
}

func (s *Store) finish(ctx context.Context, key, update string, values map[string]types.AttributeValue) error {
	values[":ua"] = &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)}
	values[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttr(key),
		UpdateExpression:          awsString(update),
		ConditionExpression:       awsString("#s = :inprogress"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("finish %s: %w", key, ErrConditionFailed)
		}
		return fmt.Errorf("update item (finish): %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
