package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ingestion defaults.
const (
	DefaultBatchSize         = 50
	DefaultConcurrentBatches = 3
	DefaultEmbedWorkers      = 10
)

// PipelineConfig tunes chunking and batching.
type PipelineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of chunks per upsert call.
	BatchSize int
	// ConcurrentBatches is how many batches are embedded at once.
	ConcurrentBatches int
	// EmbedWorkers bounds concurrent embedding calls inside one batch.
	EmbedWorkers int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ConcurrentBatches <= 0 {
		c.ConcurrentBatches = DefaultConcurrentBatches
	}
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = DefaultEmbedWorkers
	}
	return c
}

// Pipeline runs extraction, chunking, embedding and storage for uploads.
type Pipeline struct {
	extractor TextExtractor
	embedder  Embedder
	store     VectorStore
	cfg       PipelineConfig
	logger    *log.Logger
	newID     func() string
}

func NewPipeline(extractor TextExtractor, embedder Embedder, store VectorStore, cfg PipelineConfig, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Ingest extracts text from a PDF and stores its chunks under a new
// document ID. Extraction failures abort before anything is written. A
// storage failure part way through leaves the chunks already written.
func (p *Pipeline) Ingest(ctx context.Context, fileName string, data []byte) (Document, error) {
	if strings.TrimSpace(fileName) == "" {
		return Document{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return Document{}, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}
	text, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return Document{}, err
	}
	return p.write(ctx, fileName, text)
}

// IngestText stores already-extracted text. It applies the same
// normalization and minimum length as PDF extraction.
func (p *Pipeline) IngestText(ctx context.Context, fileName, text string) (Document, error) {
	if strings.TrimSpace(fileName) == "" {
		return Document{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	text = NormalizeText(text)
	if len(text) < MinTextLength {
		return Document{}, ErrEmptyContent
	}
	return p.write(ctx, fileName, text)
}

func (p *Pipeline) write(ctx context.Context, fileName, text string) (Document, error) {
	start := time.Now()
	doc := Document{ID: p.newID(), FileName: fileName, TextLength: len(text)}

	// indices are fixed here, before any concurrent work
	chunks := ChunkText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	for i := range chunks {
		chunks[i].ID = ChunkID(doc.ID, chunks[i].Index)
		chunks[i].DocumentID = doc.ID
		chunks[i].FileName = fileName
	}
	p.logger.Printf("processing %d chunks for document %s (%s)", len(chunks), doc.ID, fileName)

	batches := splitBatches(chunks, p.cfg.BatchSize)
	done := 0
	for wave := 0; wave < len(batches); wave += p.cfg.ConcurrentBatches {
		end := wave + p.cfg.ConcurrentBatches
		if end > len(batches) {
			end = len(batches)
		}
		group := batches[wave:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, batch := range group {
			g.Go(func() error {
				return p.embedBatch(gctx, batch)
			})
		}
		if err := g.Wait(); err != nil {
			return Document{}, fmt.Errorf("embed document %s: %w", doc.ID, err)
		}

		// upserts are issued one batch at a time
		for _, batch := range group {
			if err := p.store.Upsert(ctx, batch); err != nil {
				return Document{}, fmt.Errorf("store document %s chunks %d-%d: %w",
					doc.ID, batch[0].Index, batch[len(batch)-1].Index, err)
			}
			chunksStored.Add(float64(len(batch)))
			done += len(batch)
		}
		p.logger.Printf("processed %d/%d chunks", done, len(chunks))
	}

	documentsIngested.Inc()
	ingestDuration.Observe(time.Since(start).Seconds())
	p.logger.Printf("stored %d chunks for document %s in %s", len(chunks), doc.ID, time.Since(start).Truncate(time.Millisecond))
	return doc, nil
}

// embedBatch fills in the Embedding of every chunk in batch.
func (p *Pipeline) embedBatch(ctx context.Context, batch []Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedWorkers)
	for i := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch[i].Embedding = p.embedder.Embed(gctx, batch[i].Content).Vector
			return nil
		})
	}
	return g.Wait()
}

func splitBatches(chunks []Chunk, size int) [][]Chunk {
	var batches [][]Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}
