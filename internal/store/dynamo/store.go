// Package dynamo stores to-do items in a DynamoDB table keyed by userId and todoId.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"todoapp.io/internal/todo"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store implements todo.Store.
type Store struct {
	api   API
	table string
}

var _ todo.Store = (*Store)(nil)

// New returns a store over the named table.
func New(api API, table string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: client is required")
	}
	if table == "" {
		return nil, errors.New("dynamo: table name is required")
	}
	return &Store{api: api, table: table}, nil
}

// NewFromConfig builds the DynamoDB client from loaded AWS configuration.
func NewFromConfig(cfg aws.Config, table string, optFns ...func(*dynamodb.Options)) (*Store, error) {
	return New(dynamodb.NewFromConfig(cfg, optFns...), table)
}

func key(userID, todoID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
		"todoId": &types.AttributeValueMemberS{Value: todoID},
	}
}

func (s *Store) Put(ctx context.Context, t todo.Todo) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal todo: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put todo: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, todoID string) (todo.Todo, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(userID, todoID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return todo.Todo{}, fmt.Errorf("get todo: %w", err)
	}
	if len(out.Item) == 0 {
		return todo.Todo{}, todo.ErrNotFound
	}
	var t todo.Todo
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return todo.Todo{}, fmt.Errorf("unmarshal todo: %w", err)
	}
	return t, nil
}

func (s *Store) Update(ctx context.Context, userID, todoID string, patch todo.Patch, now time.Time) (todo.Todo, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(now.UTC()))
	if patch.Title != nil {
		update = update.Set(expression.Name("title"), expression.Value(*patch.Title))
	}
	if patch.Description != nil {
		update = update.Set(expression.Name("description"), expression.Value(*patch.Description))
	}
	if patch.DueDate != nil {
		update = update.Set(expression.Name("dueDate"), expression.Value(*patch.DueDate))
	}
	if patch.Status != nil {
		update = update.Set(expression.Name("status"), expression.Value(*patch.Status))
	}
	cond := expression.AttributeExists(expression.Name("todoId"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return todo.Todo{}, fmt.Errorf("build update: %w", err)
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(userID, todoID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return todo.Todo{}, todo.ErrNotFound
		}
		return todo.Todo{}, fmt.Errorf("update todo: %w", err)
	}
	var t todo.Todo
	if err := attributevalue.UnmarshalMap(out.Attributes, &t); err != nil {
		return todo.Todo{}, fmt.Errorf("unmarshal todo: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, userID, todoID string) error {
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("todoId"))).
		Build()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      key(userID, todoID),
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return todo.ErrNotFound
		}
		return fmt.Errorf("delete todo: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, userID string) ([]todo.Todo, error) {
	keyCond := expression.Key("userId").Equal(expression.Value(userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	out := make([]todo.Todo, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query todos: %w", err)
		}
		var items []todo.Todo
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal todos: %w", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

// Ping checks that the table exists and is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
