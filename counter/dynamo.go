package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Item attribute names. The partition key is the entity name and the
// counter lives in a numeric "value" attribute.
const (
	dynamoKeyAttr     = "entity"
	dynamoValueAttr   = "value"
	dynamoUpdatedAttr = "updated_at"
)

// DynamoStore keeps counters in a DynamoDB table using native atomic ADD.
type DynamoStore struct {
	client DynamoAPI
	table  string
	logger *zap.SugaredLogger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store on table.
func NewDynamoStore(client DynamoAPI, table string, logger *zap.SugaredLogger) *DynamoStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DynamoStore{client: client, table: table, logger: logger}
}

func (s *DynamoStore) key(entity string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: entity},
	}
}

func (s *DynamoStore) IncrementIfExists(ctx context.Context, entity string, delta int64) error {
	if err := validateWrite(entity, OpIncrement, delta); err != nil {
		return err
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(entity),
		UpdateExpression:    aws.String("ADD #v :d SET #u = :now"),
		ConditionExpression: aws.String("attribute_exists(#v)"),
		ExpressionAttributeNames: map[string]string{
			"#v": dynamoValueAttr,
			"#u": dynamoUpdatedAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d":   &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if isConditionalCheckFailed(err) {
		return absentError(entity, OpIncrement)
	}
	return newStoreError(entity, OpIncrement, err, classifyDynamo)
}

func (s *DynamoStore) Initialize(ctx context.Context, entity string, value int64) error {
	if err := validateWrite(entity, OpInitialize, value); err != nil {
		return err
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttr:     &types.AttributeValueMemberS{Value: entity},
			dynamoValueAttr:   &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)},
			dynamoUpdatedAttr: &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": dynamoKeyAttr},
	})
	if isConditionalCheckFailed(err) {
		return existsError(entity, OpInitialize)
	}
	return newStoreError(entity, OpInitialize, err, classifyDynamo)
}

func (s *DynamoStore) Get(ctx context.Context, entity string) (Entry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(entity),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Entry{}, newStoreError(entity, OpGet, err, classifyDynamo)
	}
	if len(out.Item) == 0 {
		return Entry{}, absentError(entity, OpGet)
	}
	e, err := entryFromItem(out.Item)
	if err != nil {
		return Entry{}, &StoreError{Entity: entity, Op: OpGet, Kind: KindValidation, Err: err}
	}
	return e, nil
}

// List scans the whole table. Fine for the operator CLI, not for hot paths.
func (s *DynamoStore) List(ctx context.Context, limit int) ([]Entry, error) {
	var (
		entries []Entry
		start   map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, newStoreError("", OpList, err, classifyDynamo)
		}
		for _, item := range out.Items {
			e, err := entryFromItem(item)
			if err != nil {
				s.logger.Warnw("Skipping malformed counter item", "error", err)
				continue
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func entryFromItem(item map[string]types.AttributeValue) (Entry, error) {
	var e Entry
	name, ok := item[dynamoKeyAttr].(*types.AttributeValueMemberS)
	if !ok {
		return e, errors.Newf("item has no string %q attribute", dynamoKeyAttr)
	}
	e.Entity = name.Value

	num, ok := item[dynamoValueAttr].(*types.AttributeValueMemberN)
	if !ok {
		return e, errors.Newf("item %q has no numeric %q attribute", e.Entity, dynamoValueAttr)
	}
	count, err := strconv.ParseInt(num.Value, 10, 64)
	if err != nil {
		return e, errors.Wrapf(err, "item %q has a non-integer count", e.Entity)
	}
	e.Count = count

	if ts, ok := item[dynamoUpdatedAttr].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts.Value); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// classifyDynamo maps AWS error codes to kinds.
func classifyDynamo(err error) Kind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return KindUnavailable // transport failure before the service answered
	}
	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException", "RequestLimitExceeded",
		"ThrottlingException", "TransactionConflictException":
		return KindThrottled
	case "AccessDeniedException", "UnrecognizedClientException", "MissingAuthenticationTokenException":
		return KindPermission
	case "ValidationException", "ResourceNotFoundException":
		return KindValidation
	case "InternalServerError", "ServiceUnavailable":
		return KindUnavailable
	}
	return KindOther
}
