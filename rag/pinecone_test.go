package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPineconeStore_RequiresCredentials(t *testing.T) {
	_, err := NewPineconeStore(PineconeConfig{IndexName: "pdf-chat"}, discardLogger())
	assert.Error(t, err)

	_, err = NewPineconeStore(PineconeConfig{APIKey: "key"}, discardLogger())
	assert.Error(t, err)
}

func TestPineconeVectorMetadata(t *testing.T) {
	ch := Chunk{
		ID:         ChunkID("doc-1", 3),
		DocumentID: "doc-1",
		FileName:   "report.pdf",
		Index:      3,
		Content:    "Some chunk text.",
		StartIndex: 2100,
		EndIndex:   2116,
		Embedding:  unit(1, 0),
	}

	v, err := toPineconeVector(ch)
	require.NoError(t, err)
	assert.Equal(t, "doc-1_3", v.Id)
	require.NotNil(t, v.Values)
	assert.Len(t, *v.Values, Dimension)

	fields := v.Metadata.GetFields()
	assert.Equal(t, "doc-1", fields["documentId"].GetStringValue())
	assert.Equal(t, "report.pdf", fields["fileName"].GetStringValue())
	assert.Equal(t, float64(3), fields["chunkIndex"].GetNumberValue())

	got, err := fromPineconeVector(v)
	require.NoError(t, err)
	ch.Embedding = nil
	assert.Equal(t, ch, got)
}

func TestDocumentFilter(t *testing.T) {
	f, err := documentFilter("abc")
	require.NoError(t, err)
	eq := f.GetFields()["documentId"].GetStructValue().GetFields()["$eq"]
	assert.Equal(t, "abc", eq.GetStringValue())
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(errors.New(`409 Conflict: {"error":{"code":"ALREADY_EXISTS"}}`)))
	assert.True(t, isAlreadyExists(errors.New("Resource pdf-chat already exists")))
	assert.False(t, isAlreadyExists(errors.New("unauthorized")))
}
