package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
)

// Emitter pushes cycle-level datapoints to CloudWatch so the broker and
// garbage collector are observable without scraping their processes.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
	log       zerolog.Logger
}

// NewEmitter returns an Emitter publishing under the given namespace.
func NewEmitter(client aws.CloudWatchAPI, namespace string, log zerolog.Logger) *Emitter {
	return &Emitter{
		client:    client,
		namespace: namespace,
		log:       log.With().Str("component", "metrics").Logger(),
	}
}

// Emit publishes one datapoint. Failures are logged and swallowed; metrics
// must never take down a scheduling cycle.
func (e *Emitter) Emit(ctx context.Context, name string, value float64, dims map[string]string) {
	if e == nil || e.client == nil {
		return
	}
	var dimensions []cwtypes.Dimension
	for k, v := range dims {
		k, v := k, v
		dimensions = append(dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}
	now := time.Now()
	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &e.namespace,
		MetricData: []cwtypes.MetricDatum{{
			MetricName: &name,
			Value:      &value,
			Timestamp:  &now,
			Dimensions: dimensions,
		}},
	})
	if err != nil {
		e.log.Warn().Err(err).Str("metric", name).Msg("cloudwatch emit failed")
	}
}
