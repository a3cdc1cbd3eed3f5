package queue

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// mockSQS is a small in-memory mock for the SQS calls the queue makes.
// Visibility is modeled as a boolean: a message with inflight=true is not
// redelivered until its visibility is reset to zero.
type mockSQS struct {
	mu       sync.Mutex
	nextID   int
	messages []*mockMessage
}

type mockMessage struct {
	body     string
	receipt  string
	inflight bool
}

func newMockSQS() *mockSQS { return &mockSQS{} }

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages = append(m.messages, &mockMessage{
		body:    *params.MessageBody,
		receipt: "receipt-" + strconv.Itoa(m.nextID),
	})
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{}
	for _, msg := range m.messages {
		if msg.inflight {
			continue
		}
		msg.inflight = true
		out.Messages = append(out.Messages, sqstypes.Message{
			Body:          &msg.body,
			ReceiptHandle: &msg.receipt,
		})
		break
	}
	return out, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.receipt == *params.ReceiptHandle {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.receipt == *params.ReceiptHandle && params.VisibilityTimeout == 0 {
			msg.inflight = false
		}
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (m *mockSQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameApproximateNumberOfMessages): strconv.Itoa(len(m.messages)),
		},
	}, nil
}

func newTestQueue() (*Queue, *mockSQS) {
	mock := newMockSQS()
	return New(mock, "https://sqs.test/dispatch", 120, 0), mock
}

func TestPublishLeaseAck(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	if err := q.Publish(ctx, "req-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	lease, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if lease == nil || lease.Message.RequestID != "req-1" {
		t.Fatalf("unexpected lease: %+v", lease)
	}

	// leased message is invisible to a second consumer
	second, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if second != nil {
		t.Fatal("in-flight message must not be redelivered")
	}

	if err := q.Ack(ctx, lease); err != nil {
		t.Fatalf("ack: %v", err)
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue after ack, got %d", depth)
	}
}

func TestNackRedelivers(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	if err := q.Publish(ctx, "req-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	lease, err := q.Lease(ctx)
	if err != nil || lease == nil {
		t.Fatalf("lease: %v %v", lease, err)
	}
	if err := q.Nack(ctx, lease); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("re-lease: %v", err)
	}
	if again == nil || again.Message.RequestID != "req-1" {
		t.Fatal("nacked message must be redelivered")
	}
}

func TestLeaseEmptyQueue(t *testing.T) {
	q, _ := newTestQueue()
	lease, err := q.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if lease != nil {
		t.Fatal("empty queue must yield a nil lease")
	}
}

func TestUnparseableMessageDropped(t *testing.T) {
	q, mock := newTestQueue()
	ctx := context.Background()

	mock.messages = append(mock.messages, &mockMessage{body: "not json", receipt: "r-1"})

	if _, err := q.Lease(ctx); err == nil {
		t.Fatal("unparseable body must be reported")
	}
	if len(mock.messages) != 0 {
		t.Fatal("unparseable message must be deleted, not redelivered forever")
	}
}

func TestDepth(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, "req"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("expected 3, got %d", depth)
	}
}
