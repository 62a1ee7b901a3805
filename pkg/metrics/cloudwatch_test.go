package metrics

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type mockCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func newTestCloudWatchPublisher(client CloudWatchAPI) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client, namespace: "FleetlockTest"}
}

func TestCloudWatchPublisher_PublishHeartbeatFailure(t *testing.T) {
	mock := &mockCloudWatchClient{}
	pub := newTestCloudWatchPublisher(mock)

	if err := pub.PublishHeartbeatFailure(context.Background()); err != nil {
		t.Fatalf("PublishHeartbeatFailure() error = %v", err)
	}

	if len(mock.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(mock.inputs))
	}
	input := mock.inputs[0]
	if aws.ToString(input.Namespace) != "FleetlockTest" {
		t.Errorf("namespace = %q, want FleetlockTest", aws.ToString(input.Namespace))
	}
	if aws.ToString(input.MetricData[0].MetricName) != "HeartbeatFailures" {
		t.Errorf("metric = %q, want HeartbeatFailures", aws.ToString(input.MetricData[0].MetricName))
	}
}

func TestCloudWatchPublisher_LockMetricsCarryDimension(t *testing.T) {
	mock := &mockCloudWatchClient{}
	pub := newTestCloudWatchPublisher(mock)

	if err := pub.PublishLockWaitDuration(context.Background(), "pool-a", 0.5); err != nil {
		t.Fatalf("PublishLockWaitDuration() error = %v", err)
	}

	datum := mock.inputs[0].MetricData[0]
	if datum.Unit != types.StandardUnitSeconds {
		t.Errorf("unit = %v, want Seconds", datum.Unit)
	}
	if len(datum.Dimensions) != 1 {
		t.Fatalf("dimensions = %d, want 1", len(datum.Dimensions))
	}
	if aws.ToString(datum.Dimensions[0].Name) != "LockName" ||
		aws.ToString(datum.Dimensions[0].Value) != "pool-a" {
		t.Errorf("dimension = %s=%s, want LockName=pool-a",
			aws.ToString(datum.Dimensions[0].Name), aws.ToString(datum.Dimensions[0].Value))
	}
}

func TestCloudWatchPublisher_CoordinatorUpGauge(t *testing.T) {
	mock := &mockCloudWatchClient{}
	pub := newTestCloudWatchPublisher(mock)

	if err := pub.PublishCoordinatorUp(context.Background(), true); err != nil {
		t.Fatalf("PublishCoordinatorUp() error = %v", err)
	}
	if err := pub.PublishCoordinatorUp(context.Background(), false); err != nil {
		t.Fatalf("PublishCoordinatorUp() error = %v", err)
	}

	if got := aws.ToFloat64(mock.inputs[0].MetricData[0].Value); got != 1 {
		t.Errorf("up value = %v, want 1", got)
	}
	if got := aws.ToFloat64(mock.inputs[1].MetricData[0].Value); got != 0 {
		t.Errorf("down value = %v, want 0", got)
	}
}

func TestCloudWatchPublisher_Close(t *testing.T) {
	pub := newTestCloudWatchPublisher(&mockCloudWatchClient{})
	if err := pub.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
