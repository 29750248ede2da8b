// Package ddbledger appends issued certificates to a DynamoDB table.
//
// Each entry is written with a conditional put so a certificate id can never
// be recorded twice with a different root. The table needs a string partition
// key named "id".
package ddbledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrDuplicateEntry is returned when a certificate id was already recorded.
var ErrDuplicateEntry = errors.New("ddbledger: entry already recorded")

// DDBClient is the subset of the DynamoDB API the ledger uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Entry is one recorded certificate.
type Entry struct {
	CertificateID string
	MerkleRoot    string
	RecordedAt    time.Time
}

// Ledger records certificate roots append-only in DynamoDB.
type Ledger struct {
	client    DDBClient
	tableName string
}

// New creates a ledger over an existing table.
func New(client DDBClient, tableName string) *Ledger {
	return &Ledger{client: client, tableName: tableName}
}

// Append records (certificateID, merkleRoot). The conditional expression
// rejects the put if the id exists, making the ledger append-only.
func (l *Ledger) Append(ctx context.Context, certificateID, merkleRoot string) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"id":          &types.AttributeValueMemberS{Value: certificateID},
			"merkle_root": &types.AttributeValueMemberS{Value: merkleRoot},
			"recorded_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("put ledger entry: %w", err)
	}
	return nil
}

// Get fetches a recorded entry, or (nil, nil) when the id is unknown.
func (l *Ledger) Get(ctx context.Context, certificateID string) (*Entry, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: certificateID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	entry := &Entry{CertificateID: certificateID}
	if v, ok := out.Item["merkle_root"].(*types.AttributeValueMemberS); ok {
		entry.MerkleRoot = v.Value
	}
	if v, ok := out.Item["recorded_at"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			entry.RecordedAt = t
		}
	}
	return entry, nil
}
