package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone-backed vector store.
type PineconeConfig struct {
	APIKey    string
	IndexName string
	// Cloud and Region place a newly created serverless index.
	Cloud  string
	Region string
	// ReadyPoll is the interval between readiness checks after creation.
	ReadyPoll time.Duration
}

// PineconeStore is a VectorStore on a Pinecone serverless index using
// cosine similarity and Dimension-sized vectors.
type PineconeStore struct {
	client *pinecone.Client
	cfg    PineconeConfig
	logger *log.Logger

	mu   sync.Mutex
	conn *pinecone.IndexConnection
}

func NewPineconeStore(cfg PineconeConfig, logger *log.Logger) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("pinecone: API key is required")
	}
	if cfg.IndexName == "" {
		return nil, errors.New("pinecone: index name is required")
	}
	if cfg.Cloud == "" {
		cfg.Cloud = string(pinecone.Aws)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = 2 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone: create client: %w", err)
	}
	return &PineconeStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *PineconeStore) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	exists, err := s.indexExists(ctx)
	if err != nil {
		return fmt.Errorf("%w: list indexes: %v", ErrStorageFailure, err)
	}
	if !exists {
		s.logger.Printf("creating index %s (dimension %d, cosine)", s.cfg.IndexName, Dimension)
		dimension := int32(Dimension)
		metric := pinecone.Cosine
		_, err := s.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
			Name:      s.cfg.IndexName,
			Dimension: &dimension,
			Metric:    &metric,
			Cloud:     pinecone.Cloud(s.cfg.Cloud),
			Region:    s.cfg.Region,
		})
		// another process may have created it between list and create
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("%w: create index %s: %v", ErrStorageFailure, s.cfg.IndexName, err)
		}
	}

	idx, err := s.waitReady(ctx)
	if err != nil {
		return err
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return fmt.Errorf("%w: connect to index %s: %v", ErrStorageFailure, s.cfg.IndexName, err)
	}
	s.conn = conn
	return nil
}

func (s *PineconeStore) indexExists(ctx context.Context) (bool, error) {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx != nil && idx.Name == s.cfg.IndexName {
			return true, nil
		}
	}
	return false, nil
}

func (s *PineconeStore) waitReady(ctx context.Context) (*pinecone.Index, error) {
	ticker := time.NewTicker(s.cfg.ReadyPoll)
	defer ticker.Stop()
	for {
		idx, err := s.client.DescribeIndex(ctx, s.cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("%w: describe index %s: %v", ErrStorageFailure, s.cfg.IndexName, err)
		}
		if idx.Status != nil && idx.Status.Ready {
			return idx, nil
		}
		s.logger.Printf("waiting for index %s to become ready", s.cfg.IndexName)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: index %s not ready: %v", ErrStorageFailure, s.cfg.IndexName, ctx.Err())
		case <-ticker.C:
		}
	}
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already_exists")
}

func (s *PineconeStore) connection(ctx context.Context) (*pinecone.IndexConnection, error) {
	if err := s.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, nil
}

func (s *PineconeStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	vectors := make([]*pinecone.Vector, 0, len(chunks))
	for _, ch := range chunks {
		v, err := toPineconeVector(ch)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		vectors = append(vectors, v)
	}
	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("%w: upsert %d vectors: %v", ErrStorageFailure, len(vectors), err)
	}
	return nil
}

func (s *PineconeStore) Query(ctx context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := documentFilter(documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorageFailure, err)
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		chunk, err := fromPineconeVector(m.Vector)
		if err != nil {
			s.logger.Printf("skipping match with unreadable metadata: %v", err)
			continue
		}
		// the filter already scopes the query; this guards against a
		// misconfigured index returning foreign records
		if chunk.DocumentID != documentID {
			continue
		}
		results = append(results, SearchResult{Chunk: chunk, Score: float64(m.Score)})
	}
	return results, nil
}

func documentFilter(documentID string) (*pinecone.MetadataFilter, error) {
	return structpb.NewStruct(map[string]any{
		"documentId": map[string]any{"$eq": documentID},
	})
}

func toPineconeVector(ch Chunk) (*pinecone.Vector, error) {
	m := ch.Metadata()
	meta, err := structpb.NewStruct(map[string]any{
		"documentId": m.DocumentID,
		"fileName":   m.FileName,
		"text":       m.Text,
		"chunkIndex": m.ChunkIndex,
		"startIndex": m.StartIndex,
		"endIndex":   m.EndIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata for %s: %w", ch.ID, err)
	}
	values := ch.Embedding
	return &pinecone.Vector{Id: ch.ID, Values: &values, Metadata: meta}, nil
}

func fromPineconeVector(v *pinecone.Vector) (Chunk, error) {
	if v.Metadata == nil {
		return Chunk{}, fmt.Errorf("vector %s has no metadata", v.Id)
	}
	var m Metadata
	if err := mapstructure.Decode(v.Metadata.AsMap(), &m); err != nil {
		return Chunk{}, fmt.Errorf("decode metadata for %s: %w", v.Id, err)
	}
	return chunkFromMetadata(v.Id, m), nil
}
