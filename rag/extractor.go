package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	// MinTextLength is the shortest normalized text accepted from a document.
	MinTextLength = 10
	// DefaultRecoveryPages caps the degraded second pass over a PDF.
	DefaultRecoveryPages = 200
)

// TextExtractor turns raw document bytes into normalized plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// parseFunc reads plain text from a PDF. maxPages == 0 reads the whole
// document in one pass and fails on the first broken page.
type parseFunc func(data []byte, maxPages int) (string, error)

type PDFExtractor struct {
	recoveryPages int
	parse         parseFunc
	logger        *log.Logger
}

func NewPDFExtractor(logger *log.Logger) *PDFExtractor {
	if logger == nil {
		logger = log.Default()
	}
	return &PDFExtractor{
		recoveryPages: DefaultRecoveryPages,
		parse:         parsePDF,
		logger:        logger,
	}
}

// Extract parses the PDF, retrying once page by page (capped at
// recoveryPages) if the full parse fails.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", ErrInvalidInput)
	}

	raw, err := e.parse(data, 0)
	if err != nil {
		e.logger.Printf("primary PDF parse failed, retrying with %d page limit: %v", e.recoveryPages, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionFailed, ctxErr)
		}
		raw, err = e.parse(data, e.recoveryPages)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	}

	text := NormalizeText(raw)
	if len(text) < MinTextLength {
		return "", ErrEmptyContent
	}
	e.logger.Printf("extracted %d characters from PDF", len(text))
	return text, nil
}

// NormalizeText collapses every whitespace run to a single space and drops
// anything outside printable ASCII.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case r >= 0x20 && r <= 0x7e:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parsePDF(data []byte, maxPages int) (text string, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	if maxPages <= 0 {
		b, err := rdr.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("read pdf text: %w", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, b); err != nil {
			return "", fmt.Errorf("read pdf buffer: %w", err)
		}
		return buf.String(), nil
	}

	pages := rdr.NumPage()
	if pages > maxPages {
		pages = maxPages
	}
	fonts := make(map[string]*pdf.Font)
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := rdr.Page(i)
		if page.V.IsNull() {
			continue
		}
		// GetPlainText only consults the map it is given, so each page's
		// fonts must be loaded into it first
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			// skip unreadable pages in recovery mode
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
