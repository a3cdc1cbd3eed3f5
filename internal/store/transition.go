package store

import (
	"context"
	"fmt"
	"strconv"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// Meta carries the optional fields a transition may update alongside the
// status. Nil pointers are left untouched.
type Meta struct {
	URL           *string
	ContentLength *int64
	ContentType   *string
	MD5           *string
	UserMessage   *string
}

// Transition atomically moves a request from expected to next, updating
// last_modified and any supplied metadata.
//
// Fails with request.ErrInvalidTransition if next is not reachable from
// expected, request.ErrConflict if another actor changed the status first,
// and request.ErrNotFound if the record no longer exists. Every component
// that mutates status must go through here; nothing writes status directly.
func (s *Store) Transition(ctx context.Context, id string, expected, next request.Status, meta Meta) error {
	if !request.CanTransition(expected, next) {
		return fmt.Errorf("%s -> %s: %w", expected, next, request.ErrInvalidTransition)
	}

	updateExpr := "SET #s = :next, last_modified = :lm"
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":lm":       &types.AttributeValueMemberN{Value: formatEpoch(s.nowFunc())},
	}
	if meta.URL != nil {
		updateExpr += ", #u = :url"
		names["#u"] = "url"
		values[":url"] = &types.AttributeValueMemberS{Value: *meta.URL}
	}
	if meta.ContentLength != nil {
		updateExpr += ", content_length = :cl"
		values[":cl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*meta.ContentLength, 10)}
	}
	if meta.ContentType != nil {
		updateExpr += ", content_type = :ct"
		values[":ct"] = &types.AttributeValueMemberS{Value: *meta.ContentType}
	}
	if meta.MD5 != nil {
		updateExpr += ", md5 = :md5"
		values[":md5"] = &types.AttributeValueMemberS{Value: *meta.MD5}
	}
	if meta.UserMessage != nil {
		updateExpr += ", user_message = :um"
		values[":um"] = &types.AttributeValueMemberS{Value: *meta.UserMessage}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       idKey(id),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("attribute_exists(id) AND #s = :expected"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalFailure(err) {
			// Distinguish a lost race from a deleted record.
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return getErr
			}
			return fmt.Errorf("transition %s (%s -> %s): %w", id, expected, next, request.ErrConflict)
		}
		return fmt.Errorf("update item: %w", err)
	}

	s.log.Info().
		Str("request_id", id).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("request status set")
	return nil
}

// MarkEvicted clears the artifact-bearing fields of a terminal request after
// its staged object has been deleted under storage pressure. A later download
// attempt observes the missing URL and returns Gone instead of a stale link.
func (s *Store) MarkEvicted(ctx context.Context, id string) error {
	updateExpr := "SET last_modified = :lm, user_message = :um REMOVE #u, md5, content_length"
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 idKey(id),
		UpdateExpression:    &updateExpr,
		ConditionExpression: awsString("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#u": "url",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lm": &types.AttributeValueMemberN{Value: formatEpoch(s.nowFunc())},
			":um": &types.AttributeValueMemberS{Value: "Result expired from staging and is no longer available"},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("mark evicted %s: %w", id, request.ErrNotFound)
		}
		return fmt.Errorf("update item: %w", err)
	}
	s.log.Info().Str("request_id", id).Msg("request marked evicted")
	return nil
}
