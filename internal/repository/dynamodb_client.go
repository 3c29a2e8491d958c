package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"line-relay/internal/domain"
)

// DefaultTTL is how long an idle session history is kept.
const DefaultTTL = 30 * 24 * time.Hour

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per session, keyed by PK "chat/{session}".
// Items carry a ttl attribute so the table's TTL sweeper removes idle
// sessions; items past their ttl but not yet swept read as absent.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type DynamoOption func(*DynamoStore)

// WithTTL overrides DefaultTTL. A non-positive value disables expiry.
func WithTTL(ttl time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		s.ttl = ttl
	}
}

func withClock(now func() time.Time) DynamoOption {
	return func(s *DynamoStore) {
		s.now = now
	}
}

func NewDynamoStore(api dynamodbAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{api: api, tableName: tableName, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *DynamoStore) key(sessionKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: historyPath(sessionKey)},
	}
}

func (s *DynamoStore) Get(ctx context.Context, sessionKey string) (domain.History, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(sessionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: Get get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}
	if s.expired(out.Item) {
		return nil, false, nil
	}

	history, err := itemToHistory(out.Item)
	if err != nil {
		return nil, false, fmt.Errorf("repository: Get decode: %w", err)
	}
	return history, true, nil
}

func (s *DynamoStore) Put(ctx context.Context, sessionKey string, history domain.History) error {
	now := s.now().UTC()
	item := s.key(sessionKey)
	item["sessionKey"] = &types.AttributeValueMemberS{Value: sessionKey}
	item["turns"] = historyAttr(history)
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)}
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, sessionKey string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(sessionKey),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *DynamoStore) expired(item map[string]types.AttributeValue) bool {
	if _, ok := item["ttl"]; !ok {
		return false
	}
	ttl, err := intAttr(item, "ttl")
	if err != nil {
		return false
	}
	return int64(ttl) <= s.now().Unix()
}

func historyAttr(history domain.History) *types.AttributeValueMemberL {
	list := make([]types.AttributeValue, 0, len(history))
	for _, t := range history {
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: string(t.Role)},
			"content": &types.AttributeValueMemberS{Value: t.Content},
		}})
	}
	return &types.AttributeValueMemberL{Value: list}
}

// itemToHistory converts a DynamoDB attribute map to a History.
func itemToHistory(item map[string]types.AttributeValue) (domain.History, error) {
	v, ok := item["turns"]
	if !ok {
		return domain.History{}, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New("repository: attribute \"turns\" is not a list")
	}

	history := make(domain.History, 0, len(list.Value))
	for i, elem := range list.Value {
		m, ok := elem.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: turn %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: turn %d: %w", i, err)
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return nil, fmt.Errorf("repository: turn %d: %w", i, err)
		}
		history = append(history, domain.Turn{Role: domain.Role(role), Content: content})
	}
	return history, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
