package main

import (
	"fmt"
	"log"

	"pdfchat/config"
	"pdfchat/rag"
)

// App is the wired dependency graph shared by the server and the CLI.
type App struct {
	Store     rag.VectorStore
	Pipeline  *rag.Pipeline
	Assembler *rag.Assembler
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}

// buildApp assembles extractor, embedder, store and generator from cfg.
// Without an LLM key the local hash embedder is used and answers report
// that generation is unavailable.
func buildApp(cfg *config.Config) (*App, error) {
	ragLogger := newLogger("[RAG] ")

	var (
		embedder  rag.Embedder
		generator rag.Generator
	)
	if cfg.LLM.Enabled() {
		client, err := rag.NewOpenAIClient(rag.OpenAIConfig{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			EmbeddingModel:    cfg.LLM.EmbeddingModel,
			CompletionModel:   cfg.LLM.CompletionModel,
			Timeout:           cfg.LLM.Timeout,
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestDimensions: cfg.LLM.RequestDimensions,
		})
		if err != nil {
			return nil, err
		}
		embedder = rag.NewFallbackEmbedder(client, ragLogger)
		generator = client
	} else {
		ragLogger.Printf("no LLM API key configured, using local embeddings")
		embedder = rag.NewSimpleEmbedder()
		generator = rag.UnavailableGenerator{}
	}

	store, err := buildStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	pipeline := rag.NewPipeline(rag.NewPDFExtractor(ragLogger), embedder, store, rag.PipelineConfig{
		ChunkSize:         cfg.Chunker.MaxChunkSize,
		ChunkOverlap:      cfg.Chunker.Overlap,
		BatchSize:         cfg.Ingest.BatchSize,
		ConcurrentBatches: cfg.Ingest.ConcurrentBatches,
		EmbedWorkers:      cfg.Ingest.EmbedWorkers,
	}, ragLogger)

	assembler := rag.NewAssembler(embedder, store, generator, rag.AssemblerConfig{
		TopK:            cfg.Retrieval.TopK,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		PreviewChars:    cfg.Retrieval.PreviewChars,
	}, ragLogger)

	return &App{Store: store, Pipeline: pipeline, Assembler: assembler}, nil
}

func buildStore(cfg config.VectorStoreConfig) (rag.VectorStore, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return rag.NewInMemoryStore(), nil
	case config.StorePinecone:
		store, err := rag.NewPineconeStore(rag.PineconeConfig{
			APIKey:    cfg.APIKey,
			IndexName: cfg.IndexName,
			Cloud:     cfg.Cloud,
			Region:    cfg.Region,
			ReadyPoll: cfg.ReadyPoll,
		}, newLogger("[PINECONE] "))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.Type)
	}
}
