// Package dynamodb stores the history journal in a single DynamoDB table
// keyed by session (PK) and zero-padded sequence (SK).
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/application/ports"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// DynamoDB limits batch writes to 25 items
const (
	batchSize  = 25
	maxRetries = 3
)

// API is the subset of the DynamoDB client the journal uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// item is the stored form of a journal entry.
type item struct {
	PK            string    `dynamodbav:"PK"`
	SK            string    `dynamodbav:"SK"`
	EntityType    string    `dynamodbav:"EntityType"`
	Session       string    `dynamodbav:"Session"`
	Sequence      int64     `dynamodbav:"Sequence"`
	Action        string    `dynamodbav:"Action"`
	Name          string    `dynamodbav:"Name"`
	RecordType    string    `dynamodbav:"RecordType"`
	RecordVersion int       `dynamodbav:"RecordVersion"`
	Payload       string    `dynamodbav:"Payload"`
	Timestamp     time.Time `dynamodbav:"Timestamp"`
}

const entityType = "JournalEntry"

func sessionKey(session string) string { return "SESSION#" + session }

func sequenceKey(seq int64) string { return fmt.Sprintf("SEQ#%020d", seq) }

func toItem(e ports.Entry) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(item{
		PK:            sessionKey(e.Session),
		SK:            sequenceKey(e.Sequence),
		EntityType:    entityType,
		Session:       e.Session,
		Sequence:      e.Sequence,
		Action:        string(e.Action),
		Name:          e.Name,
		RecordType:    e.Record.Type,
		RecordVersion: e.Record.Version,
		Payload:       string(e.Record.Payload),
		Timestamp:     e.Timestamp.UTC(),
	})
}

func fromItem(av map[string]types.AttributeValue) (ports.Entry, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return ports.Entry{}, err
	}
	return ports.Entry{
		Session:  it.Session,
		Sequence: it.Sequence,
		Action:   ports.JournalAction(it.Action),
		Name:     it.Name,
		Record: commands.Record{
			Type:    it.RecordType,
			Version: it.RecordVersion,
			Payload: json.RawMessage(it.Payload),
		},
		Timestamp: it.Timestamp,
	}, nil
}

// Journal implements ports.Journal on DynamoDB.
type Journal struct {
	client    API
	tableName string
	logger    *zap.Logger
	backoff   time.Duration
}

// NewJournal creates a journal on tableName.
func NewJournal(client API, tableName string, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		client:    client,
		tableName: tableName,
		logger:    logger,
		backoff:   100 * time.Millisecond,
	}
}

// Append writes one entry. An existing sequence is a conflict.
func (j *Journal) Append(ctx context.Context, entry ports.Entry) error {
	av, err := toItem(entry)
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal journal entry").WithCause(err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("SK").AttributeNotExists()).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build expression").WithCause(err)
	}

	_, err = j.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(j.tableName),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewConflictErrorf("sequence %d already journaled for %s", entry.Sequence, entry.Session)
		}
		return classify("PutItem", err)
	}

	j.logger.Debug("Journal entry saved",
		zap.String("session", entry.Session),
		zap.Int64("sequence", entry.Sequence),
		zap.String("action", string(entry.Action)),
	)
	return nil
}

// AppendBatch writes entries in batches of 25, retrying unprocessed items.
// Batch writes are unconditional, so it is meant for imports into an empty
// session.
func (j *Journal) AppendBatch(ctx context.Context, entries []ports.Entry) error {
	for i := 0; i < len(entries); i += batchSize {
		end := min(i+batchSize, len(entries))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, e := range entries[i:end] {
			av, err := toItem(e)
			if err != nil {
				return pkgerrors.NewInternalError("failed to marshal journal entry").WithCause(err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := j.writeBatch(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) writeBatch(ctx context.Context, requests []types.WriteRequest) error {
	pending := requests
	for retry := 0; retry < maxRetries && len(pending) > 0; retry++ {
		if retry > 0 {
			wait := time.Duration(retry*retry+1) * j.backoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		out, err := j.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{j.tableName: pending},
		})
		if err != nil {
			j.logger.Warn("Batch write failed, retrying", zap.Error(err), zap.Int("retry", retry+1))
			continue
		}
		pending = out.UnprocessedItems[j.tableName]
		if len(pending) > 0 {
			j.logger.Debug("Found unprocessed items, retrying",
				zap.Int("unprocessedCount", len(pending)),
				zap.Int("retry", retry+1),
			)
		}
	}
	if len(pending) > 0 {
		return pkgerrors.NewDatabaseError("BatchWriteItem",
			fmt.Errorf("%d items unprocessed after %d retries", len(pending), maxRetries))
	}
	return nil
}

// Entries reads every page of the session's partition in sequence order.
func (j *Journal) Entries(ctx context.Context, session string) ([]ports.Entry, error) {
	keyExpr := expression.Key("PK").Equal(expression.Value(sessionKey(session)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyExpr).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build expression").WithCause(err)
	}

	paginator := dynamodb.NewQueryPaginator(j.client, &dynamodb.QueryInput{
		TableName:                 aws.String(j.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	})

	var entries []ports.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("Query", err)
		}
		for _, av := range page.Items {
			e, err := fromItem(av)
			if err != nil {
				j.logger.Warn("Failed to parse journal item", zap.Error(err))
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// classify maps an SDK error onto an AppError, keeping the service error code.
func classify(op string, err error) error {
	appErr := pkgerrors.NewDatabaseError(op, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		appErr = appErr.WithCode(apiErr.ErrorCode())
	}
	return appErr
}
