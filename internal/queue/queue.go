// Package queue carries dispatch messages (request ids) from the broker to
// the workers over SQS. The visibility timeout acts as the dispatch lease: a
// worker that dies before acking lets the lease expire and the message is
// redelivered to another worker. Delivery is therefore at-least-once; the
// worker's terminal-state check makes the outcome effectively once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
)

// Message is the payload placed on the dispatch queue. It carries only the
// request id; workers re-read the authoritative record from the store.
type Message struct {
	RequestID string `json:"request_id"`
}

// Lease is a time-bounded claim on a dequeued message. The receipt handle is
// the lease token; Ack consumes it, Nack releases it for redelivery.
type Lease struct {
	Message       Message
	receiptHandle string
}

// Queue wraps an SQS client and a queue URL.
type Queue struct {
	client            aws.SQSAPI
	queueURL          string
	visibilityTimeout int32 // lease duration in seconds
	waitTime          int32 // long-poll duration in seconds
}

// New returns a Queue bound to a queue URL. visibilityTimeout is the lease
// expiry in seconds; waitTime bounds how long Lease blocks waiting for work.
func New(client aws.SQSAPI, queueURL string, visibilityTimeout, waitTime int32) *Queue {
	return &Queue{
		client:            client,
		queueURL:          queueURL,
		visibilityTimeout: visibilityTimeout,
		waitTime:          waitTime,
	}
}

// Publish enqueues a dispatch message for a request.
func (q *Queue) Publish(ctx context.Context, requestID string) error {
	body, err := json.Marshal(Message{RequestID: requestID})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	bodyStr := string(body)
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: &bodyStr,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"request_id": {
				DataType:    awsString("String"),
				StringValue: &requestID,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Lease blocks (long poll, up to waitTime) for the next dispatch message and
// claims it for visibilityTimeout seconds. Returns (nil, nil) when no message
// arrived within the window.
func (q *Queue) Lease(ctx context.Context) (*Lease, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   q.visibilityTimeout,
		WaitTimeSeconds:     q.waitTime,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	var body Message
	if err := json.Unmarshal([]byte(*msg.Body), &body); err != nil {
		// Unparseable messages are removed rather than redelivered forever.
		_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &q.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		})
		return nil, fmt.Errorf("unmarshal message body: %w", err)
	}
	return &Lease{Message: body, receiptHandle: *msg.ReceiptHandle}, nil
}

// Ack acknowledges the leased message, removing it from the queue.
func (q *Queue) Ack(ctx context.Context, l *Lease) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: &l.receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Nack releases the lease immediately so another worker can pick the message up.
func (q *Queue) Nack(ctx context.Context, l *Lease) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.queueURL,
		ReceiptHandle:     &l.receiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

// ExtendLease renews the claim on a message while a long-running execution is
// still in flight, preventing redelivery mid-processing.
func (q *Queue) ExtendLease(ctx context.Context, l *Lease) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.queueURL,
		ReceiptHandle:     &l.receiptHandle,
		VisibilityTimeout: q.visibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

// Depth returns the approximate number of messages waiting on the queue. The
// broker uses it to skip a dispatch cycle when workers are saturated.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &q.queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get queue attributes: %w", err)
	}
	raw, ok := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth: %w", err)
	}
	return n, nil
}

func awsString(s string) *string { return &s }
