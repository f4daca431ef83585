package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

// Single-table key layout.
const (
	skMetadata   = "METADATA"
	skProfile    = "PROFILE"
	skUnique     = "UNIQUE"
	allMoviesKey = "ALL_MOVIES"
	gsi1Name     = "GSI1"
	counterPK    = "COUNTER"
)

// dynamoAPI is the subset of the DynamoDB client the store calls.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type movieItem struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk"`
	GSI1SK string `dynamodbav:"gsi1sk"`
	models.Movie
}

type userItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.User
}

func moviePK(id int64) string { return "MOVIE#" + strconv.FormatInt(id, 10) }
func userPK(id int64) string  { return "USER#" + strconv.FormatInt(id, 10) }
func titlePK(t string) string { return "TITLE#" + t }
func emailPK(e string) string { return "EMAIL#" + e }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// DynamoStore keeps records in a single DynamoDB table with a GSI1 index on
// (gsi1pk, gsi1sk). Titles and emails are kept unique with guard items
// written in the same transaction as the record.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a store over an existing client.
func NewDynamoStore(client *dynamodb.Client, tableName string) (*DynamoStore, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return newDynamoStore(client, tableName), nil
}

func newDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// nextID increments and returns a named counter.
func (s *DynamoStore) nextID(ctx context.Context, name string) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              key(counterPK, name),
		UpdateExpression: aws.String("ADD #value :one"),
		ExpressionAttributeNames: map[string]string{
			"#value": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", strings.ToLower(name), err)
	}

	var counter struct {
		Value int64 `dynamodbav:"value"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return 0, fmt.Errorf("failed to unmarshal counter: %w", err)
	}
	return counter.Value, nil
}

func (s *DynamoStore) CreateMovie(ctx context.Context, in *models.MovieInput) (*models.Movie, error) {
	id, err := s.nextID(ctx, "MOVIE")
	if err != nil {
		return nil, err
	}

	m := in.NewMovie(id, s.now())
	item, err := attributevalue.MarshalMap(movieItem{
		PK:     moviePK(id),
		SK:     skMetadata,
		GSI1PK: allMoviesKey,
		GSI1SK: fmt.Sprintf("%s#%020d", m.CreatedAt.Format(time.RFC3339Nano), id),
		Movie:  *m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal movie: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			s.titleGuardPut(m.Title, id),
		},
	})
	if err != nil {
		if guardFailed(err, 1) {
			return nil, models.ErrTitleTaken
		}
		return nil, fmt.Errorf("failed to create movie: %w", err)
	}

	return m, nil
}

func (s *DynamoStore) titleGuardPut(title string, id int64) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":       &types.AttributeValueMemberS{Value: titlePK(title)},
			"sk":       &types.AttributeValueMemberS{Value: skUnique},
			"movie_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	}}
}

func (s *DynamoStore) GetMovie(ctx context.Context, id int64) (*models.Movie, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(moviePK(id), skMetadata),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get movie: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrNotFound
	}

	var item movieItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal movie: %w", err)
	}

	return &item.Movie, nil
}

// ListMovies reads the whole GSI1 partition and filters in memory.
func (s *DynamoStore) ListMovies(ctx context.Context, filter models.MovieFilter) ([]*models.Movie, error) {
	var (
		all      []*models.Movie
		startKey map[string]types.AttributeValue
	)

	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("gsi1pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: allMoviesKey},
			},
			ScanIndexForward:  aws.Bool(false), // Descending order (newest first)
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list movies: %w", err)
		}

		var items []movieItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal movies: %w", err)
		}
		for i := range items {
			all = append(all, &items[i].Movie)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return page(all, filter), nil
}

// buildMovieUpdate renders the SET expression for a patch.
func buildMovieUpdate(patch models.MoviePatch, now time.Time) (string, map[string]string, map[string]types.AttributeValue, error) {
	assignments := patch.Assignments()

	sets := make([]string, 0, len(assignments)+1)
	names := make(map[string]string, len(assignments)+1)
	values := make(map[string]types.AttributeValue, len(assignments)+1)

	for i, a := range assignments {
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(a.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to marshal %s: %w", a.Column, err)
		}
		sets = append(sets, n+" = "+v)
		names[n] = a.Column
		values[v] = av
	}

	sets = append(sets, "#updated_at = :updated_at")
	names["#updated_at"] = "updated_at"
	values[":updated_at"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}

	return "SET " + strings.Join(sets, ", "), names, values, nil
}

func (s *DynamoStore) PatchMovie(ctx context.Context, id int64, patch models.MoviePatch) (*models.Movie, error) {
	if patch.IsEmpty() {
		return s.GetMovie(ctx, id)
	}

	expr, names, values, err := buildMovieUpdate(patch, s.now())
	if err != nil {
		return nil, err
	}

	if patch.Title == nil {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.tableName),
			Key:                       key(moviePK(id), skMetadata),
			UpdateExpression:          aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ConditionExpression:       aws.String("attribute_exists(pk)"),
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("failed to update movie: %w", err)
		}

		var item movieItem
		if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal movie: %w", err)
		}
		return &item.Movie, nil
	}

	// A title change moves the uniqueness guard in the same transaction
	current, err := s.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Title == *patch.Title {
		patch.Title = nil
		return s.PatchMovie(ctx, id, patch)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(s.tableName),
				Key:                       key(moviePK(id), skMetadata),
				UpdateExpression:          aws.String(expr),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
				ConditionExpression:       aws.String("attribute_exists(pk)"),
			}},
			s.titleGuardPut(*patch.Title, id),
			{Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       key(titlePK(current.Title), skUnique),
			}},
		},
	})
	if err != nil {
		switch {
		case guardFailed(err, 0):
			return nil, models.ErrNotFound
		case guardFailed(err, 1):
			return nil, models.ErrTitleTaken
		}
		return nil, fmt.Errorf("failed to update movie: %w", err)
	}

	return s.GetMovie(ctx, id)
}

func (s *DynamoStore) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	id, err := s.nextID(ctx, "USER")
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := *u
	out.ID = id
	out.Email = models.NormalizeEmail(u.Email)
	if out.Role == "" {
		out.Role = models.RoleUser
	}
	out.CreatedAt, out.UpdatedAt = now, now

	item, err := attributevalue.MarshalMap(userItem{PK: userPK(id), SK: skProfile, User: out})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(s.tableName),
				Item: map[string]types.AttributeValue{
					"pk":      &types.AttributeValueMemberS{Value: emailPK(out.Email)},
					"sk":      &types.AttributeValueMemberS{Value: skUnique},
					"user_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	if err != nil {
		if guardFailed(err, 1) {
			return nil, models.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &out, nil
}

func (s *DynamoStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userPK(id), skProfile),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result.Item == nil {
		return nil, models.ErrUserNotFound
	}

	var item userItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &item.User, nil
}

func (s *DynamoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(emailPK(models.NormalizeEmail(email)), skUnique),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get email guard: %w", err)
	}
	if result.Item == nil {
		return nil, models.ErrUserNotFound
	}

	var guard struct {
		UserID int64 `dynamodbav:"user_id"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &guard); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email guard: %w", err)
	}
	return s.GetUser(ctx, guard.UserID)
}

func (s *DynamoStore) SetUserRole(ctx context.Context, id int64, role string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              key(userPK(id), skProfile),
		UpdateExpression: aws.String("SET #role = :role, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#role": "role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":role":       &types.AttributeValueMemberS{Value: role},
			":updated_at": &types.AttributeValueMemberS{Value: s.now().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrUserNotFound
		}
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return nil
}

// Ping describes the table.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

// Close is a no-op; the SDK client holds no resources to release.
func (s *DynamoStore) Close() {}

// guardFailed reports whether a transaction was cancelled because the
// condition on item index i failed.
func guardFailed(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	if i >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}
