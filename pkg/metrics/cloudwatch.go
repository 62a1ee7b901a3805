package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI provides CloudWatch operations.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher publishes metrics to AWS CloudWatch.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
}

// Ensure CloudWatchPublisher implements Publisher.
var _ Publisher = (*CloudWatchPublisher)(nil)

// NewCloudWatchPublisher creates a CloudWatch metrics publisher.
func NewCloudWatchPublisher(cfg aws.Config) *CloudWatchPublisher {
	return NewCloudWatchPublisherWithNamespace(cfg, "Fleetlock")
}

// NewCloudWatchPublisherWithNamespace creates a CloudWatch metrics publisher with custom namespace.
func NewCloudWatchPublisherWithNamespace(cfg aws.Config, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
	}
}

// Close implements Publisher.Close. CloudWatch client doesn't require cleanup.
func (p *CloudWatchPublisher) Close() error {
	return nil
}

// PublishLockWaitDuration publishes lock wait duration with lock name dimension.
func (p *CloudWatchPublisher) PublishLockWaitDuration(ctx context.Context, lockName string, seconds float64) error {
	return p.putLockMetric(ctx, "LockWaitSeconds", lockName, seconds, types.StandardUnitSeconds)
}

// PublishLockHeldDuration publishes lock held duration with lock name dimension.
func (p *CloudWatchPublisher) PublishLockHeldDuration(ctx context.Context, lockName string, seconds float64) error {
	return p.putLockMetric(ctx, "LockHeldSeconds", lockName, seconds, types.StandardUnitSeconds)
}

// PublishLockAcquireFailure publishes lock acquire failure with lock name dimension.
func (p *CloudWatchPublisher) PublishLockAcquireFailure(ctx context.Context, lockName string) error {
	return p.putLockMetric(ctx, "LockAcquireFailures", lockName, 1, types.StandardUnitCount)
}

// PublishHeartbeatFailure publishes heartbeat failure metric.
func (p *CloudWatchPublisher) PublishHeartbeatFailure(ctx context.Context) error {
	return p.putMetric(ctx, "HeartbeatFailures", 1, types.StandardUnitCount)
}

// PublishReconnectAttempt publishes reconnect attempt metric.
func (p *CloudWatchPublisher) PublishReconnectAttempt(ctx context.Context, _ int) error {
	return p.putMetric(ctx, "ReconnectAttempts", 1, types.StandardUnitCount)
}

// PublishReconnectSuccess publishes reconnect success metric.
func (p *CloudWatchPublisher) PublishReconnectSuccess(ctx context.Context) error {
	return p.putMetric(ctx, "ReconnectSuccess", 1, types.StandardUnitCount)
}

// PublishCoordinatorUp publishes coordinator connection state.
func (p *CloudWatchPublisher) PublishCoordinatorUp(ctx context.Context, up bool) error {
	v := 0.0
	if up {
		v = 1.0
	}
	return p.putMetric(ctx, "CoordinatorUp", v, types.StandardUnitCount)
}

func (p *CloudWatchPublisher) putMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s metric: %w", name, err)
	}
	return nil
}

func (p *CloudWatchPublisher) putLockMetric(ctx context.Context, name, lockName string, value float64, unit types.StandardUnit) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: []types.Dimension{
					{
						Name:  aws.String("LockName"),
						Value: aws.String(lockName),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s metric for %s: %w", name, lockName, err)
	}
	return nil
}
