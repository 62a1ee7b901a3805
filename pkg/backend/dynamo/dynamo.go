// Package dynamo implements the coordination backend on DynamoDB.
// Liveness and locks live as items in a single table keyed by name;
// acquisition and release use conditional writes so expired owners can be
// displaced without a coordination protocol of our own.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/Shavakan/fleetlock/pkg/backend"
)

const (
	defaultMemberTTL = 30 * time.Second
	defaultLockTTL   = 60 * time.Second
	defaultPoll      = 250 * time.Millisecond

	memberKeyPrefix = "member:"
	lockKeyPrefix   = "lock:"
)

// DynamoDBAPI defines the DynamoDB operations used by this backend.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func init() {
	backend.Register("dynamodb", driver{})
}

type driver struct{}

func (driver) Connect(ctx context.Context, u *backend.URL, memberID string) (backend.Conn, error) {
	if memberID == "" {
		return nil, errors.New("member id cannot be empty")
	}
	table := u.Host
	if table == "" {
		return nil, errors.New("dynamodb backend URL must name a table, e.g. dynamodb://fleetlock-locks")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := u.Query.Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	conn := &Conn{
		client:    dynamodb.NewFromConfig(awsCfg),
		table:     table,
		memberID:  memberID,
		memberTTL: queryDuration(u, "member_ttl", defaultMemberTTL),
		lockTTL:   queryDuration(u, "lock_ttl", defaultLockTTL),
		poll:      queryDuration(u, "poll", defaultPoll),
	}
	if err := conn.register(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func queryDuration(u *backend.URL, key string, def time.Duration) time.Duration {
	v := u.Query.Get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// memberRecord represents a member liveness item.
type memberRecord struct {
	Name         string `dynamodbav:"name"`
	MemberID     string `dynamodbav:"member_id"`
	ExpiresAt    int64  `dynamodbav:"expires_at"`
	RegisteredAt int64  `dynamodbav:"registered_at"`
}

// Conn is a DynamoDB-backed coordination connection.
type Conn struct {
	client    DynamoDBAPI
	table     string
	memberID  string
	memberTTL time.Duration
	lockTTL   time.Duration
	poll      time.Duration
}

var _ backend.Conn = (*Conn)(nil)

// NewConnWithClient creates a connection with an existing client (for testing).
func NewConnWithClient(ctx context.Context, client DynamoDBAPI, table, memberID string) (*Conn, error) {
	conn := &Conn{
		client:    client,
		table:     table,
		memberID:  memberID,
		memberTTL: defaultMemberTTL,
		lockTTL:   defaultLockTTL,
		poll:      defaultPoll,
	}
	if err := conn.register(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Conn) register(ctx context.Context) error {
	now := time.Now()
	record := memberRecord{
		Name:         memberKeyPrefix + c.memberID,
		MemberID:     c.memberID,
		ExpiresAt:    now.Add(c.memberTTL).Unix(),
		RegisteredAt: now.Unix(),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal member record: %w", err)
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Heartbeat renews the member liveness item's expiry. Re-registering an
// item that was already reaped is fine, so the write is unconditional.
func (c *Conn) Heartbeat(ctx context.Context) error {
	return c.register(ctx)
}

// Disconnect removes the member liveness item.
func (c *Conn) Disconnect(ctx context.Context) error {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := c.client.DeleteItem(delCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: memberKeyPrefix + c.memberID},
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetLock returns a handle for the named lock. Each handle carries its own
// owner token so a crashed holder cannot be impersonated after TTL expiry.
func (c *Conn) GetLock(name string) backend.Lock {
	return &dynamoLock{
		client: c.client,
		table:  c.table,
		name:   name,
		owner:  c.memberID + ":" + uuid.NewString(),
		ttl:    c.lockTTL,
		poll:   c.poll,
	}
}

// RequiresHeartbeat is always true: liveness items expire without renewal.
func (c *Conn) RequiresHeartbeat() bool {
	return true
}

// MemberID returns the registered member identifier.
func (c *Conn) MemberID() string {
	return c.memberID
}

// dynamoLock acquires a named lock item with conditional writes.
type dynamoLock struct {
	client DynamoDBAPI
	table  string
	name   string
	owner  string
	ttl    time.Duration
	poll   time.Duration

	held bool
}

var _ backend.Lock = (*dynamoLock)(nil)

func (l *dynamoLock) tryLock(ctx context.Context) (bool, error) {
	now := time.Now()

	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: lockKeyPrefix + l.name},
		},
		UpdateExpression: aws.String("SET lock_owner = :owner, lock_expires = :expires"),
		ConditionExpression: aws.String(
			"attribute_not_exists(#n) OR " +
				"attribute_not_exists(lock_expires) OR " +
				"lock_expires < :now OR " +
				"lock_owner = :owner",
		),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":   &types.AttributeValueMemberS{Value: l.owner},
			":expires": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(l.ttl).Unix())},
			":now":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, classify(err)
	}

	l.held = true
	return true, nil
}

func (l *dynamoLock) Acquire(ctx context.Context, wait backend.Wait) (bool, error) {
	deadline, bounded := wait.Deadline(time.Now())

	for {
		ok, err := l.tryLock(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if bounded && !time.Now().Add(l.poll).Before(deadline) {
			return false, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

// Release removes ownership only when this handle still owns the lock.
// Losing ownership to TTL expiry is not an error.
func (l *dynamoLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}

	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: lockKeyPrefix + l.name},
		},
		UpdateExpression:    aws.String("REMOVE lock_owner, lock_expires"),
		ConditionExpression: aws.String("lock_owner = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	l.held = false
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return classify(err)
	}
	return nil
}

func (l *dynamoLock) Name() string {
	return l.name
}

// classify wraps transport-level failures as connection errors so the
// coordinator reconnects; API-level errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return backend.NewConnError(err)
	}
	return err
}
