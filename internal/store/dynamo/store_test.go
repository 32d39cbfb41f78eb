package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoapp.io/internal/todo"
)

type fakeAPI struct {
	putIn    *dynamodb.PutItemInput
	getOut   *dynamodb.GetItemOutput
	updateIn *dynamodb.UpdateItemInput
	updOut   *dynamodb.UpdateItemOutput
	deleteIn *dynamodb.DeleteItemInput
	pages    []*dynamodb.QueryOutput
	queryIn  []*dynamodb.QueryInput
	err      error
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeAPI) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, f.err
	}
	return f.getOut, f.err
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	if f.err != nil {
		return nil, f.err
	}
	return f.updOut, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.err
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = append(f.queryIn, in)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, f.err
}

func sample(t *testing.T, userID, title string) todo.Todo {
	t.Helper()
	item, err := todo.New(userID, todo.Draft{Title: title, DueDate: "2026-05-01"}, todo.CreatedByUser, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return item
}

func marshal(t *testing.T, item todo.Todo) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	return av
}

func TestNewRequiresTable(t *testing.T) {
	_, err := New(&fakeAPI{}, "")
	assert.Error(t, err)
}

func TestPutAndGet(t *testing.T) {
	api := &fakeAPI{}
	s, err := New(api, "todos")
	require.NoError(t, err)

	item := sample(t, "user-1", "write tests")
	require.NoError(t, s.Put(context.Background(), item))
	require.NotNil(t, api.putIn)
	assert.Equal(t, "todos", aws.ToString(api.putIn.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "user-1"}, api.putIn.Item["userId"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "PENDING"}, api.putIn.Item["status"])
	assert.NotContains(t, api.putIn.Item, "description")

	api.getOut = &dynamodb.GetItemOutput{Item: api.putIn.Item}
	got, err := s.Get(context.Background(), "user-1", item.TodoID)
	require.NoError(t, err)
	assert.Equal(t, item.TodoID, got.TodoID)
	assert.Equal(t, item.Title, got.Title)
	assert.True(t, item.CreatedAt.Equal(got.CreatedAt))
}

func TestGetMissing(t *testing.T) {
	s, _ := New(&fakeAPI{}, "todos")
	_, err := s.Get(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, todo.ErrNotFound)
}

func TestUpdateBuildsConditionalExpression(t *testing.T) {
	item := sample(t, "user-1", "write tests")
	done := todo.StatusCompleted
	item.Status = done
	api := &fakeAPI{updOut: &dynamodb.UpdateItemOutput{Attributes: marshal(t, item)}}
	s, _ := New(api, "todos")

	got, err := s.Update(context.Background(), "user-1", item.TodoID, todo.Patch{Status: &done}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, todo.StatusCompleted, got.Status)

	in := api.updateIn
	require.NotNil(t, in)
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	assert.Contains(t, aws.ToString(in.UpdateExpression), "SET")
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_exists")
	names := make([]string, 0, len(in.ExpressionAttributeNames))
	for _, n := range in.ExpressionAttributeNames {
		names = append(names, n)
	}
	assert.ElementsMatch(t, []string{"updatedAt", "status", "todoId"}, names)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "user-1"}, in.Key["userId"])
}

func TestUpdateMissingMapsToNotFound(t *testing.T) {
	title := "x"
	api := &fakeAPI{err: &types.ConditionalCheckFailedException{}}
	s, _ := New(api, "todos")
	_, err := s.Update(context.Background(), "user-1", "nope", todo.Patch{Title: &title}, time.Now())
	assert.ErrorIs(t, err, todo.ErrNotFound)
}

func TestDelete(t *testing.T) {
	api := &fakeAPI{}
	s, _ := New(api, "todos")
	require.NoError(t, s.Delete(context.Background(), "user-1", "t-1"))
	assert.Contains(t, aws.ToString(api.deleteIn.ConditionExpression), "attribute_exists")

	api.err = &types.ConditionalCheckFailedException{}
	assert.ErrorIs(t, s.Delete(context.Background(), "user-1", "t-1"), todo.ErrNotFound)

	api.err = errors.New("throttled")
	err := s.Delete(context.Background(), "user-1", "t-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, todo.ErrNotFound)
}

func TestQueryFollowsPages(t *testing.T) {
	first := sample(t, "user-1", "one")
	second := sample(t, "user-1", "two")
	api := &fakeAPI{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{marshal(t, first)},
			LastEvaluatedKey: key("user-1", first.TodoID),
		},
		{Items: []map[string]types.AttributeValue{marshal(t, second)}},
	}}
	s, _ := New(api, "todos")

	items, err := s.Query(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Title)
	assert.Equal(t, "two", items[1].Title)
	require.Len(t, api.queryIn, 2)
	assert.Nil(t, api.queryIn[0].ExclusiveStartKey)
	assert.NotNil(t, api.queryIn[1].ExclusiveStartKey)
	assert.Contains(t, api.queryIn[0].ExpressionAttributeValues, ":0")
}

func TestPing(t *testing.T) {
	api := &fakeAPI{}
	s, _ := New(api, "todos")
	assert.NoError(t, s.Ping(context.Background()))
	api.err = errors.New("ResourceNotFoundException")
	assert.Error(t, s.Ping(context.Background()))
}
