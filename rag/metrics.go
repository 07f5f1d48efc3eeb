package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfchat_documents_ingested_total",
		Help: "Documents fully written to the vector store.",
	})
	chunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfchat_chunks_stored_total",
		Help: "Chunk vectors upserted into the vector store.",
	})
	embeddingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfchat_embedding_fallbacks_total",
		Help: "Embeddings served by the local hash fallback after a provider error.",
	})
	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfchat_generation_failures_total",
		Help: "Answer generation calls that failed and were turned into an explanatory answer.",
	})
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pdfchat_ingest_duration_seconds",
		Help:    "Time spent chunking, embedding and storing one document.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
