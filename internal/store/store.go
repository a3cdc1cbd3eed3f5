// Package store persists requests in DynamoDB.
//
// The table has `id` as hash key plus two hash-only GSIs, `status-index` and
// `user-index`. Every status mutation goes through Transition, which maps a
// DynamoDB conditional write onto the request lifecycle's compare-and-set
// contract: two actors racing on the same expected status cannot both win.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

const (
	statusIndex = "status-index"
	userIndex   = "user-index"
)

// Store encapsulates operations on the requests table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	log       zerolog.Logger
	nowFunc   func() time.Time
}

// New creates a request Store bound to a table.
func New(client aws.DynamoDBAPI, tableName string, log zerolog.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		log:       log.With().Str("component", "store").Logger(),
		nowFunc:   time.Now,
	}
}

// Insert creates a new request record. Fails with request.ErrAlreadyExists if
// the id is already present.
func (s *Store) Insert(ctx context.Context, req request.Request) error {
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("insert %s: %w", req.ID, request.ErrAlreadyExists)
		}
		return fmt.Errorf("put item: %w", err)
	}
	s.log.Info().Str("request_id", req.ID).Str("status", string(req.Status)).Msg("request created")
	return nil
}

// Get fetches a request by id. Fails with request.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*request.Request, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("request %s: %w", id, request.ErrNotFound)
	}
	var req request.Request
	if err := attributevalue.UnmarshalMap(out.Item, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &req, nil
}

// Find returns all requests with the given status, optionally restricted to
// one collection, ordered by submission timestamp ascending (oldest first).
func (s *Store) Find(ctx context.Context, status request.Status, collection string) ([]request.Request, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(statusIndex),
		KeyConditionExpression: awsString("#s = :status"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	}
	if collection != "" {
		input.FilterExpression = awsString("#c = :collection")
		input.ExpressionAttributeNames["#c"] = "collection"
		input.ExpressionAttributeValues[":collection"] = &types.AttributeValueMemberS{Value: collection}
	}

	var reqs []request.Request
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query status index: %w", err)
		}
		for _, item := range out.Items {
			var req request.Request
			if err := attributevalue.UnmarshalMap(item, &req); err != nil {
				return nil, fmt.Errorf("unmarshal request: %w", err)
			}
			reqs = append(reqs, req)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	// The status GSI is hash-only, so ordering is applied client-side.
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Timestamp < reqs[j].Timestamp })
	return reqs, nil
}

// FindByUser returns all requests submitted by one user, newest first.
func (s *Store) FindByUser(ctx context.Context, userID string) ([]request.Request, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(userIndex),
		KeyConditionExpression: awsString("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	}
	var reqs []request.Request
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query user index: %w", err)
		}
		for _, item := range out.Items {
			var req request.Request
			if err := attributevalue.UnmarshalMap(item, &req); err != nil {
				return nil, fmt.Errorf("unmarshal request: %w", err)
			}
			reqs = append(reqs, req)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Timestamp > reqs[j].Timestamp })
	return reqs, nil
}

// FindExpired returns terminal requests whose last_modified is older than the
// cutoff. Uses a scan; the garbage collector runs it once per cycle.
func (s *Store) FindExpired(ctx context.Context, cutoff time.Time) ([]request.Request, error) {
	input := &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: awsString("#s IN (:processed, :failed, :cancelled) AND last_modified < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processed": &types.AttributeValueMemberS{Value: string(request.StatusProcessed)},
			":failed":    &types.AttributeValueMemberS{Value: string(request.StatusFailed)},
			":cancelled": &types.AttributeValueMemberS{Value: string(request.StatusCancelled)},
			":cutoff":    &types.AttributeValueMemberN{Value: formatEpoch(cutoff)},
		},
	}
	var reqs []request.Request
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		for _, item := range out.Items {
			var req request.Request
			if err := attributevalue.UnmarshalMap(item, &req); err != nil {
				return nil, fmt.Errorf("unmarshal request: %w", err)
			}
			reqs = append(reqs, req)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].LastModified < reqs[j].LastModified })
	return reqs, nil
}

// Delete removes a request record. Fails with request.ErrNotFound if absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 idKey(id),
		ConditionExpression: awsString("attribute_exists(id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("delete %s: %w", id, request.ErrNotFound)
		}
		return fmt.Errorf("delete item: %w", err)
	}
	s.log.Info().Str("request_id", id).Msg("request removed")
	return nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
}

func isConditionalFailure(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return errors.As(err, &cf)
}

func awsString(s string) *string { return &s }
