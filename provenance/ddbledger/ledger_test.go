package ddbledger

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDDB struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := params.Item["id"].(*types.AttributeValueMemberS).Value
	if _, exists := f.items[id]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[id] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := params.Key["id"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func TestLedger_AppendAndGet(t *testing.T) {
	ledger := New(newFakeDDB(), "certificates")

	require.NoError(t, ledger.Append(context.Background(), "cert-1", "abc123"))

	entry, err := ledger.Get(context.Background(), "cert-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "cert-1", entry.CertificateID)
	assert.Equal(t, "abc123", entry.MerkleRoot)
	assert.False(t, entry.RecordedAt.IsZero())
}

func TestLedger_AppendIsAppendOnly(t *testing.T) {
	ledger := New(newFakeDDB(), "certificates")

	require.NoError(t, ledger.Append(context.Background(), "cert-1", "abc123"))

	err := ledger.Append(context.Background(), "cert-1", "def456")
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestLedger_GetUnknown(t *testing.T) {
	ledger := New(newFakeDDB(), "certificates")

	entry, err := ledger.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
