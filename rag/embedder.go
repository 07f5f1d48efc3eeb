package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"unicode/utf16"
)

// maxHashTokens is how many leading tokens the hash embedding looks at.
const maxHashTokens = 100

// EmbeddingSource tells whether a vector came from the remote model or the
// local hash fallback.
type EmbeddingSource int

const (
	SourceRemote EmbeddingSource = iota
	SourceFallback
)

func (s EmbeddingSource) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceFallback:
		return "fallback"
	default:
		return fmt.Sprintf("EmbeddingSource(%d)", int(s))
	}
}

// Embedding is a vector tagged with where it came from.
type Embedding struct {
	Vector []float32
	Source EmbeddingSource
}

// Degraded reports whether the vector is the hash fallback.
func (e Embedding) Degraded() bool { return e.Source == SourceFallback }

// Embedder is an interface so later you can swap implementation.
// Embed never fails: implementations degrade instead.
type Embedder interface {
	Embed(ctx context.Context, text string) Embedding
}

// RemoteEmbedder is an external embedding model.
type RemoteEmbedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SimpleEmbedder is the deterministic local embedder used when no remote
// model is configured.
type SimpleEmbedder struct{}

func NewSimpleEmbedder() *SimpleEmbedder {
	return &SimpleEmbedder{}
}

func (e *SimpleEmbedder) Embed(_ context.Context, text string) Embedding {
	return Embedding{Vector: HashEmbed(text), Source: SourceFallback}
}

// FallbackEmbedder calls the remote model and falls back to HashEmbed on
// any error. Failed calls are logged and not retried here.
type FallbackEmbedder struct {
	remote RemoteEmbedder
	logger *log.Logger
}

func NewFallbackEmbedder(remote RemoteEmbedder, logger *log.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackEmbedder{remote: remote, logger: logger}
}

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) Embedding {
	vec, err := e.remote.CreateEmbedding(ctx, text)
	if err == nil && len(vec) != Dimension {
		err = fmt.Errorf("embedding has %d dimensions, want %d", len(vec), Dimension)
	}
	if err != nil {
		embeddingFallbacks.Inc()
		e.logger.Printf("embedding degraded, using hash fallback: %v", err)
		return Embedding{Vector: HashEmbed(text), Source: SourceFallback}
	}
	return Embedding{Vector: vec, Source: SourceRemote}
}

// HashEmbed builds a bag-of-words vector: the first 100 lower-cased
// whitespace tokens are hashed into Dimension buckets, then the vector is
// L2-normalized. Text without tokens yields the zero vector.
func HashEmbed(text string) []float32 {
	counts := make([]float64, Dimension)
	words := strings.Fields(strings.ToLower(text))
	if len(words) > maxHashTokens {
		words = words[:maxHashTokens]
	}
	for _, w := range words {
		counts[wordBucket(w)]++
	}

	var sum float64
	for _, c := range counts {
		sum += c * c
	}
	vec := make([]float32, Dimension)
	if sum == 0 {
		return vec
	}
	mag := math.Sqrt(sum)
	for i, c := range counts {
		vec[i] = float32(c / mag)
	}
	return vec
}

// wordBucket is hash*31 + code unit over UTF-16, wrapped to 32 bits, made
// non-negative and reduced modulo Dimension.
func wordBucket(w string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(w)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return int(abs % Dimension)
}
