package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory mock for the DynamoDB calls the store
// makes. It honours the store's conditional expressions so the compare-and-set
// behavior can be exercised without a real table.
// NOTE: intentionally minimal and not production-grade.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numAttr(item map[string]types.AttributeValue, name string) float64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		f, _ := strconv.ParseFloat(v.Value, 64)
		return f
	}
	return 0
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strAttr(params.Item, "id")
	if id == "" {
		return nil, errors.New("missing id in put item")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(id)" {
		if _, exists := m.items[id]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[id] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strAttr(params.Key, "id")
	item, ok := m.items[id]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	id := strAttr(params.Key, "id")
	item, exists := m.items[id]
	if params.ConditionExpression != nil {
		cond := *params.ConditionExpression
		if strings.Contains(cond, "attribute_exists(id)") && !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if strings.Contains(cond, "#s = :expected") {
			expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
			if strAttr(item, "status") != expected {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	if !exists {
		return nil, errors.New("item not found")
	}

	// naive update: apply the store's known value placeholders
	set := map[string]string{
		":next": "status", ":lm": "last_modified", ":url": "url",
		":cl": "content_length", ":ct": "content_type", ":md5": "md5", ":um": "user_message",
	}
	for placeholder, attr := range set {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	if strings.Contains(*params.UpdateExpression, "REMOVE") {
		delete(item, "url")
		delete(item, "md5")
		delete(item, "content_length")
	}
	m.items[id] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strAttr(params.Key, "id")
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_exists(id)" {
		if _, exists := m.items[id]; !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(m.items, id)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &dyn.QueryOutput{}
	for _, item := range m.items {
		switch *params.IndexName {
		case "status-index":
			want := params.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
			if strAttr(item, "status") != want {
				continue
			}
			if params.FilterExpression != nil {
				col := params.ExpressionAttributeValues[":collection"].(*types.AttributeValueMemberS).Value
				if strAttr(item, "collection") != col {
					continue
				}
			}
		case "user-index":
			want := params.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS).Value
			if strAttr(item, "user_id") != want {
				continue
			}
		default:
			return nil, errors.New("unknown index " + *params.IndexName)
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff, _ := strconv.ParseFloat(params.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value, 64)
	terminal := map[string]bool{"processed": true, "failed": true, "cancelled": true}

	out := &dyn.ScanOutput{}
	for _, item := range m.items {
		if !terminal[strAttr(item, "status")] {
			continue
		}
		if numAttr(item, "last_modified") >= cutoff {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
