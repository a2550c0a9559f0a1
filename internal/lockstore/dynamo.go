package lockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cadvault/drivelock/internal/model"
)

const DefaultTTL = 5 * time.Minute

// DynamoStore implements Store on a DynamoDB table keyed by file_id.
type DynamoStore struct {
	client      *dynamodb.Client
	tableName   string
	ttlDuration time.Duration
}

// NewDynamoStore creates a new DynamoStore. A non-positive ttl falls back to
// DefaultTTL.
func NewDynamoStore(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{
		client:      client,
		tableName:   tableName,
		ttlDuration: ttl,
	}
}

// Acquire attempts to take the lock on a file.
func (s *DynamoStore) Acquire(ctx context.Context, fileID, owner, ownerName string) (*model.FileLock, error) {
	now := time.Now().Unix()
	lock := model.FileLock{
		FileID:     fileID,
		Owner:      owner,
		OwnerName:  ownerName,
		AcquiredAt: now,
		ExpiresAt:  now + int64(s.ttlDuration.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// Condition: attribute_not_exists(file_id) OR expires_at < :now OR owner = :owner
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(file_id) OR expires_at < :now OR #o = :owner",
		),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &lock, nil
}

// Heartbeat extends the lock TTL if the owner holds the lock.
func (s *DynamoStore) Heartbeat(ctx context.Context, fileID, owner string) (*model.FileLock, error) {
	expiresAt := time.Now().Unix() + int64(s.ttlDuration.Seconds())

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
		UpdateExpression:         aws.String("SET expires_at = :expires_at"),
		ConditionExpression:      aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, ErrNotOwner
		}
		return nil, fmt.Errorf("failed to extend lock: %w", err)
	}

	var lock model.FileLock
	if err := attributevalue.UnmarshalMap(out.Attributes, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &lock, nil
}

// Release removes the lock if the owner holds it.
func (s *DynamoStore) Release(ctx context.Context, fileID, owner string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
		ConditionExpression:      aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrNotOwner
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ForceRelease removes the lock regardless of owner. Administrative use only.
func (s *DynamoStore) ForceRelease(ctx context.Context, fileID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to force-release lock: %w", err)
	}
	return nil
}

// Status returns the current lock, or nil when the file is unlocked.
func (s *DynamoStore) Status(ctx context.Context, fileID string) (*model.FileLock, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock status: %w", err)
	}
	if out.Item == nil {
		return nil, nil // No lock
	}

	var lock model.FileLock
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}

	// DynamoDB TTL deletion lags; treat expired rows as unlocked.
	if lock.ExpiresAt < time.Now().Unix() {
		return nil, nil
	}
	return &lock, nil
}
