// Package dynamodb implements inter-process write coordination on DynamoDB
// conditional writes. The embedded graph engine allows one writer per tenant
// across the whole fleet; this lock is what makes that hold between
// processes.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"meshmind-backend/application/ports"
)

// DistributedLock implements ports.DistributedLocker with acquire-if-absent
// conditional writes. An expired lease is treated as absent, so a crashed
// holder blocks writers for at most one lease duration; the table's TTL
// attribute eventually removes stale records.
type DistributedLock struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewDistributedLock creates a locker backed by the given table
func NewDistributedLock(client *dynamodb.Client, tableName string, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Acquire attempts a single acquisition of resource for ownerID with the
// given lease. Returns ports.ErrLockHeld when another live lease holds it.
func (dl *DistributedLock) Acquire(ctx context.Context, resource, ownerID string, lease time.Duration) (ports.Lock, error) {
	lockID := fmt.Sprintf("%s_%d", ownerID, time.Now().UnixNano())
	now := time.Now()
	expiresAt := now.Add(lease)

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: lockKey(resource)},
		"SK":         &types.AttributeValueMemberS{Value: "LOCK"},
		"LockID":     &types.AttributeValueMemberS{Value: lockID},
		"Owner":      &types.AttributeValueMemberS{Value: ownerID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"ExpiresAt":  &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339Nano)},
		"TTL":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(dl.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}

	if _, err := dl.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			dl.logger.Debug("Lock held by another owner",
				zap.String("resource", resource),
				zap.String("owner", ownerID),
			)
			return nil, ports.ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", resource, err)
	}

	dl.logger.Debug("Lock acquired",
		zap.String("resource", resource),
		zap.String("lock_id", lockID),
		zap.String("owner", ownerID),
		zap.Duration("lease", lease),
	)

	return &lockLease{
		locker:    dl,
		resource:  resource,
		lockID:    lockID,
		ownerID:   ownerID,
		expiresAt: expiresAt,
	}, nil
}

// release deletes the lock record only if this lease still owns it. A record
// already gone, or taken over after lease expiry, counts as released.
func (dl *DistributedLock) release(ctx context.Context, resource, lockID, ownerID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(dl.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: lockKey(resource)},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		ConditionExpression: aws.String("LockID = :lock_id AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lock_id": &types.AttributeValueMemberS{Value: lockID},
			":owner":   &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	if _, err := dl.client.DeleteItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			dl.logger.Warn("Lock already released or taken over",
				zap.String("resource", resource),
				zap.String("lock_id", lockID),
				zap.String("owner", ownerID),
			)
			return nil
		}
		return fmt.Errorf("failed to release lock for %s: %w", resource, err)
	}

	dl.logger.Debug("Lock released",
		zap.String("resource", resource),
		zap.String("lock_id", lockID),
	)
	return nil
}

// lockKey builds the partition key for a coordination resource
func lockKey(resource string) string {
	return "LOCK#" + resource
}

// lockLease is one acquired lease
type lockLease struct {
	locker    *DistributedLock
	resource  string
	lockID    string
	ownerID   string
	expiresAt time.Time
}

func (l *lockLease) Release(ctx context.Context) error {
	return l.locker.release(ctx, l.resource, l.lockID, l.ownerID)
}

func (l *lockLease) IsExpired() bool {
	return time.Now().After(l.expiresAt)
}

func (l *lockLease) Resource() string {
	return l.resource
}
