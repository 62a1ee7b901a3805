package dynamo

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Shavakan/fleetlock/pkg/backend"
)

type mockDynamoDBClient struct {
	putItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	updateItemFunc func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	deleteItemFunc func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFunc != nil {
		return m.deleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestConn(t *testing.T, mockDB *mockDynamoDBClient) *Conn {
	t.Helper()
	conn, err := NewConnWithClient(context.Background(), mockDB, "test-locks", "member-1")
	if err != nil {
		t.Fatalf("NewConnWithClient failed: %v", err)
	}
	return conn
}

func TestConnect_RegistersMember(t *testing.T) {
	var registered *dynamodb.PutItemInput
	mockDB := &mockDynamoDBClient{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			registered = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	conn := newTestConn(t, mockDB)

	if registered == nil {
		t.Fatal("connect did not register a member item")
	}
	if aws.ToString(registered.TableName) != "test-locks" {
		t.Errorf("table = %q, want test-locks", aws.ToString(registered.TableName))
	}
	name := registered.Item["name"].(*types.AttributeValueMemberS).Value
	if name != "member:member-1" {
		t.Errorf("member item key = %q, want member:member-1", name)
	}
	if !conn.RequiresHeartbeat() {
		t.Error("dynamo backend should require heartbeats")
	}
}

func TestHeartbeat_NetworkFailure_IsConnectionError(t *testing.T) {
	calls := 0
	mockDB := &mockDynamoDBClient{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.PutItemOutput{}, nil
			}
			return nil, &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host"}}
		},
	}

	conn := newTestConn(t, mockDB)

	err := conn.Heartbeat(context.Background())
	if err == nil {
		t.Fatal("expected heartbeat failure")
	}
	if !backend.IsConnectionError(err) {
		t.Errorf("expected connection error, got %v", err)
	}
}

func TestLock_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		var update *dynamodb.UpdateItemInput
		mockDB := &mockDynamoDBClient{
			updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
				update = params
				return &dynamodb.UpdateItemOutput{}, nil
			},
		}

		conn := newTestConn(t, mockDB)
		l := conn.GetLock("pool-a")

		ok, err := l.Acquire(context.Background(), backend.NoWait())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if !ok {
			t.Fatal("Acquire() should return true on success")
		}

		key := update.Key["name"].(*types.AttributeValueMemberS).Value
		if key != "lock:pool-a" {
			t.Errorf("lock item key = %q, want lock:pool-a", key)
		}
	})

	t.Run("lock already held", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
				return nil, &types.ConditionalCheckFailedException{
					Message: aws.String("lock already held"),
				}
			},
		}

		conn := newTestConn(t, mockDB)
		l := conn.GetLock("pool-a")

		ok, err := l.Acquire(context.Background(), backend.NoWait())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if ok {
			t.Error("Acquire() should return false when lock is held")
		}
	})

	t.Run("timeout expires while held", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
				return nil, &types.ConditionalCheckFailedException{
					Message: aws.String("lock already held"),
				}
			},
		}

		conn := newTestConn(t, mockDB)
		conn.poll = 10 * time.Millisecond
		l := conn.GetLock("pool-a")

		ok, err := l.Acquire(context.Background(), backend.WaitFor(30*time.Millisecond))
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if ok {
			t.Error("Acquire() should give up after the timeout")
		}
	})
}

func TestLock_OwnerTokensAreUniquePerHandle(t *testing.T) {
	mockDB := &mockDynamoDBClient{}
	conn := newTestConn(t, mockDB)

	l1 := conn.GetLock("x").(*dynamoLock)
	l2 := conn.GetLock("x").(*dynamoLock)
	if l1.owner == l2.owner {
		t.Error("distinct lock handles must carry distinct owner tokens")
	}
}

func TestLock_Release(t *testing.T) {
	t.Run("only releases when held", func(t *testing.T) {
		released := false
		mockDB := &mockDynamoDBClient{
			updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
				if aws.ToString(params.UpdateExpression) == "REMOVE lock_owner, lock_expires" {
					released = true
				}
				return &dynamodb.UpdateItemOutput{}, nil
			},
		}

		conn := newTestConn(t, mockDB)
		l := conn.GetLock("pool-a")

		if err := l.Release(context.Background()); err != nil {
			t.Fatalf("Release() of unheld lock: %v", err)
		}
		if released {
			t.Error("unheld lock should not issue a release write")
		}

		if ok, err := l.Acquire(context.Background(), backend.NoWait()); err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if err := l.Release(context.Background()); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if !released {
			t.Error("held lock should issue a release write")
		}
	})

	t.Run("ownership lost is not an error", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
				if aws.ToString(params.UpdateExpression) == "REMOVE lock_owner, lock_expires" {
					return nil, &types.ConditionalCheckFailedException{
						Message: aws.String("owner mismatch"),
					}
				}
				return &dynamodb.UpdateItemOutput{}, nil
			},
		}

		conn := newTestConn(t, mockDB)
		l := conn.GetLock("pool-a")

		if ok, err := l.Acquire(context.Background(), backend.NoWait()); err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if err := l.Release(context.Background()); err != nil {
			t.Errorf("Release() after losing ownership should be nil, got %v", err)
		}
	})
}

func TestDisconnect_DeletesMemberItem(t *testing.T) {
	var deleted *dynamodb.DeleteItemInput
	mockDB := &mockDynamoDBClient{
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			deleted = params
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}

	conn := newTestConn(t, mockDB)
	if err := conn.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if deleted == nil {
		t.Fatal("disconnect did not delete the member item")
	}
	key := deleted.Key["name"].(*types.AttributeValueMemberS).Value
	if key != "member:member-1" {
		t.Errorf("deleted key = %q, want member:member-1", key)
	}
}
