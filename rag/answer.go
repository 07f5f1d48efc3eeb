package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode/utf8"
)

// Retrieval defaults.
const (
	DefaultTopK            = 5
	DefaultMaxContextChars = 24000
	DefaultPreviewChars    = 200
)

// NoRelevantInformation is returned when a document has no matching chunks.
const NoRelevantInformation = "I couldn't find relevant information in the document to answer your question. " +
	"Please try rephrasing your question or ask about different topics covered in the document."

const promptTemplate = `Answer the user's question using only the context below, which was taken from a document.
If the context does not contain the answer, say so clearly instead of guessing.

Context:
%s

Question: %s

Answer:`

// AssemblerConfig tunes retrieval and context assembly.
type AssemblerConfig struct {
	TopK int
	// MaxContextChars bounds the context sent to the model.
	MaxContextChars int
	// PreviewChars is the length of source previews in the answer.
	PreviewChars int
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = DefaultMaxContextChars
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = DefaultPreviewChars
	}
	return c
}

// Assembler answers questions about one stored document.
type Assembler struct {
	embedder  Embedder
	store     VectorStore
	generator Generator
	cfg       AssemblerConfig
	logger    *log.Logger
}

func NewAssembler(embedder Embedder, store VectorStore, generator Generator, cfg AssemblerConfig, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	return &Assembler{
		embedder:  embedder,
		store:     store,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Answer retrieves the closest chunks of documentID and asks the generator
// to answer from them. Only invalid input and storage failures are
// returned as errors; a generation failure becomes the answer text.
func (a *Assembler) Answer(ctx context.Context, question, documentID string) (Answer, error) {
	question = strings.TrimSpace(question)
	documentID = strings.TrimSpace(documentID)
	if question == "" || documentID == "" {
		return Answer{}, fmt.Errorf("%w: question and documentId are required", ErrInvalidInput)
	}

	a.logger.Printf("processing query for document %s", documentID)
	query := a.embedder.Embed(ctx, question)
	matches, err := a.store.Query(ctx, query.Vector, a.cfg.TopK, documentID)
	if err != nil {
		return Answer{}, err
	}
	if len(matches) == 0 {
		return Answer{Text: NoRelevantInformation, Sources: []Source{}}, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			Text:       preview(m.Chunk.Content, a.cfg.PreviewChars),
			Score:      m.Score,
			ChunkIndex: m.Chunk.Index,
		}
	}

	prompt := fmt.Sprintf(promptTemplate, BuildContext(matches, a.cfg.MaxContextChars), question)
	text, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		generationFailures.Inc()
		a.logger.Printf("generation failed for document %s: %v", documentID, err)
		text = fmt.Sprintf("I encountered an error while generating an answer to your question: %v. "+
			"Please try again in a moment.", err)
	}
	return Answer{Text: text, Sources: sources}, nil
}

// BuildContext joins chunk texts with blank lines in the given order,
// stopping at maxChars. A chunk that does not fit whole is cut short.
func BuildContext(results []SearchResult, maxChars int) string {
	var b strings.Builder
	for _, r := range results {
		text := strings.TrimSpace(r.Chunk.Content)
		if text == "" {
			continue
		}
		sep := 0
		if b.Len() > 0 {
			sep = 2
		}
		remaining := maxChars - b.Len() - sep
		if remaining <= 0 {
			break
		}
		if len(text) > remaining {
			for remaining > 0 && !utf8.RuneStart(text[remaining]) {
				remaining--
			}
			if remaining == 0 {
				break
			}
			text = text[:remaining]
		}
		if sep > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String()
}

// preview cuts text to at most n bytes without splitting a rune.
func preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n] + "..."
}

// UnavailableGenerator stands in when no completion model is configured.
type UnavailableGenerator struct{}

func (UnavailableGenerator) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: no completion model is configured", ErrGenerationFailure)
}
