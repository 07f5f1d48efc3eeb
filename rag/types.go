package rag

import "strconv"

// Dimension is the length of every vector stored in the index.
const Dimension = 768

// Document is created once per upload and never mutated.
type Document struct {
	ID         string
	FileName   string
	TextLength int
}

// Chunk of a document
type Chunk struct {
	ID         string
	DocumentID string
	FileName   string
	Index      int
	Content    string
	// StartIndex and EndIndex are estimates derived from the chunker
	// settings, not positions in the source text.
	StartIndex int
	EndIndex   int
	Embedding  []float32
}

// ChunkID is the stored identifier of a chunk: {documentId}_{index}.
func ChunkID(documentID string, index int) string {
	return documentID + "_" + strconv.Itoa(index)
}

// Metadata is the payload attached to every vector in the external store.
type Metadata struct {
	DocumentID string `json:"documentId" mapstructure:"documentId"`
	FileName   string `json:"fileName" mapstructure:"fileName"`
	Text       string `json:"text" mapstructure:"text"`
	ChunkIndex int    `json:"chunkIndex" mapstructure:"chunkIndex"`
	StartIndex int    `json:"startIndex" mapstructure:"startIndex"`
	EndIndex   int    `json:"endIndex" mapstructure:"endIndex"`
}

// Metadata returns the stored payload for the chunk.
func (c Chunk) Metadata() Metadata {
	return Metadata{
		DocumentID: c.DocumentID,
		FileName:   c.FileName,
		Text:       c.Content,
		ChunkIndex: c.Index,
		StartIndex: c.StartIndex,
		EndIndex:   c.EndIndex,
	}
}

// chunkFromMetadata rebuilds a chunk reference from a stored record.
func chunkFromMetadata(id string, m Metadata) Chunk {
	return Chunk{
		ID:         id,
		DocumentID: m.DocumentID,
		FileName:   m.FileName,
		Index:      m.ChunkIndex,
		Content:    m.Text,
		StartIndex: m.StartIndex,
		EndIndex:   m.EndIndex,
	}
}

// Simple query result
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Source is a supporting chunk returned alongside an answer.
type Source struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunkIndex"`
}

// Answer is the generated text plus the chunks it was conditioned on.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}
