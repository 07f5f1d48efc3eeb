package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/config"
	"pdfchat/rag"
)

type stubGenerator struct {
	answer string
	err    error
}

func (g stubGenerator) Generate(context.Context, string) (string, error) {
	return g.answer, g.err
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:        3001,
		MaxUploadMB: 1,
		RateLimit:   config.RateLimitConfig{Requests: 100, Window: 15 * time.Minute},
	}
}

func newTestServer(gen rag.Generator, cfg config.ServerConfig) *Server {
	logger := log.New(io.Discard, "", 0)
	store := rag.NewInMemoryStore()
	embedder := rag.NewSimpleEmbedder()
	app := &App{
		Store:     store,
		Pipeline:  rag.NewPipeline(rag.NewPDFExtractor(logger), embedder, store, rag.PipelineConfig{}, logger),
		Assembler: rag.NewAssembler(embedder, store, gen, rag.AssemblerConfig{}, logger),
	}
	s := NewServer(app, cfg)
	s.logger = logger
	return s
}

func serve(t *testing.T, e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&data), w.Body.String())
	return data
}

func multipartUpload(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func chatRequestBody(question, documentID string) *http.Request {
	body := fmt.Sprintf(`{"question":%q,"documentId":%q}`, question, documentID)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHealthHandler_OK(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)
	assert.Equal(t, "OK", data["status"])
	_, err := time.Parse(time.RFC3339, data["timestamp"].(string))
	assert.NoError(t, err)
}

func TestUploadTextThenChat(t *testing.T) {
	e := newTestServer(stubGenerator{answer: "It ships in two days."}, testServerConfig()).Echo()

	body := "Orders ship within two business days. Returns are accepted for thirty days. " +
		"Support is available by email around the clock."
	req := httptest.NewRequest(http.MethodPost, "/api/upload-text?name=policy.txt", strings.NewReader(body))
	w := serve(t, e, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	upload := decode(t, w)
	assert.Equal(t, true, upload["success"])
	assert.Equal(t, "policy.txt", upload["fileName"])
	assert.Equal(t, float64(len(body)), upload["textLength"])
	docID, _ := upload["documentId"].(string)
	require.NotEmpty(t, docID)

	w = serve(t, e, chatRequestBody("How fast do orders ship?", docID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var chat struct {
		Success  bool `json:"success"`
		Response struct {
			Answer  string `json:"answer"`
			Sources []struct {
				Text       string  `json:"text"`
				Score      float64 `json:"score"`
				ChunkIndex int     `json:"chunkIndex"`
			} `json:"sources"`
		} `json:"response"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&chat))
	assert.True(t, chat.Success)
	assert.Equal(t, "It ships in two days.", chat.Response.Answer)
	require.Len(t, chat.Response.Sources, 1)
	assert.Equal(t, 0, chat.Response.Sources[0].ChunkIndex)
	assert.Contains(t, chat.Response.Sources[0].Text, "Orders ship")
}

func TestChatHandler_MessageAlias(t *testing.T) {
	s := newTestServer(stubGenerator{answer: "yes"}, testServerConfig())
	e := s.Echo()

	doc, err := s.pipeline.IngestText(context.Background(), "notes.txt", "Alias fields are accepted by the chat endpoint.")
	require.NoError(t, err)

	body := fmt.Sprintf(`{"message":"Are aliases accepted?","documentId":%q}`, doc.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := serve(t, e, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestChatHandler_UnknownDocument(t *testing.T) {
	e := newTestServer(stubGenerator{answer: "unused"}, testServerConfig()).Echo()

	w := serve(t, e, chatRequestBody("Anything?", "does-not-exist"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sources":[]`)
	assert.Contains(t, w.Body.String(), "couldn't find relevant information")
}

func TestChatHandler_GenerationFailureIsStillOK(t *testing.T) {
	s := newTestServer(stubGenerator{err: errors.New("model overloaded")}, testServerConfig())
	e := s.Echo()
	doc, err := s.pipeline.IngestText(context.Background(), "a.txt", "The sky appears blue because of scattering.")
	require.NoError(t, err)

	w := serve(t, e, chatRequestBody("Why is the sky blue?", doc.ID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "model overloaded")
}

func TestChatHandler_MissingFields(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, chatRequestBody("Question?", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Question and documentId are required", decode(t, w)["error"])

	w = serve(t, e, chatRequestBody("", "doc"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_WrongMethod(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = serve(t, e, httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = serve(t, e, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadTextHandler_EmptyBody(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodPost, "/api/upload-text", strings.NewReader("   ")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadTextHandler_TooShort(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodPost, "/api/upload-text", strings.NewReader("hi there")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUploadHandler_MissingFile(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("not multipart"))
	w := serve(t, e, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No PDF file uploaded", decode(t, w)["error"])
}

func TestUploadHandler_RejectsNonPDF(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, multipartUpload(t, "pdf", "notes.txt", []byte("plain text, not a pdf")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadHandler_EmptyFile(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, multipartUpload(t, "pdf", "empty.pdf", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandler_CorruptPDF(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, multipartUpload(t, "file", "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Failed to extract text")
}

func TestUploadHandler_TooLarge(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 3<<20)...)
	w := serve(t, e, multipartUpload(t, "pdf", "big.pdf", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Requests: 2, Window: 15 * time.Minute}
	e := newTestServer(stubGenerator{}, cfg).Echo()

	for i := 0; i < 2; i++ {
		w := serve(t, e, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(t, e, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, float64(900), decode(t, w)["retryAfter"])
	assert.Equal(t, "900", w.Header().Get("Retry-After"))

	// the budget is per client, shared by every API route
	w = serve(t, e, chatRequestBody("Question?", "doc"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(stubGenerator{}, testServerConfig()).Echo()

	w := serve(t, e, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pdfchat_documents_ingested_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad", rag.ErrInvalidInput), http.StatusBadRequest},
		{rag.ErrEmptyContent, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: eof", rag.ErrExtractionFailed), http.StatusUnprocessableEntity},
		{fmt.Errorf("upsert: %w", rag.ErrStorageFailure), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, msg := statusFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := statusFor(fmt.Errorf("upsert: %w: connection refused to 10.0.0.1", rag.ErrStorageFailure))
	assert.NotContains(t, msg, "10.0.0.1")
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/octet-stream", []byte("%PDF-1.7")))
	assert.True(t, isPDF("application/pdf", []byte("garbage")))
	assert.False(t, isPDF("text/plain", []byte("hello")))
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeMemoryConfig(t *testing.T) string {
	t.Helper()
	for _, env := range []string{"GEMINI_API_KEY", "PDFCHAT_LLM_API_KEY", "PDFCHAT_VECTOR_STORE_TYPE"} {
		t.Setenv(env, "")
	}
	path := filepath.Join(t.TempDir(), "pdfchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vector_store:\n  type: memory\n"), 0o600))
	return path
}

func TestCLI_IngestRejectsMemoryStore(t *testing.T) {
	cfgPath := writeMemoryConfig(t)
	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Command line ingestion stores plain text documents."), 0o600))

	_, err := executeCLI(t, "--config", cfgPath, "ingest", "--text", doc)
	assert.ErrorIs(t, err, errMemoryStoreCLI)
}

func TestCLI_AskRejectsMemoryStore(t *testing.T) {
	cfgPath := writeMemoryConfig(t)

	_, err := executeCLI(t, "--config", cfgPath, "ask", "--document", "missing", "what", "is", "this?")
	assert.ErrorIs(t, err, errMemoryStoreCLI)
}

func TestCLI_HelpMentionsPersistentStore(t *testing.T) {
	out, err := executeCLI(t, "ask", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "only works under serve")
}

func TestPrintAnswer(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printAnswer(cmd, rag.Answer{
		Text:    "Two years.",
		Sources: []rag.Source{{Text: "The warranty lasts two years.", Score: 0.91, ChunkIndex: 3}},
	})
	assert.Contains(t, out.String(), "Two years.\n")
	assert.Contains(t, out.String(), "[chunk 3, score 0.910] The warranty lasts two years.")

	out.Reset()
	printAnswer(cmd, rag.Answer{Text: rag.NoRelevantInformation, Sources: []rag.Source{}})
	assert.NotContains(t, out.String(), "Sources:")
}

func TestCLI_AskRequiresDocument(t *testing.T) {
	cfgPath := writeMemoryConfig(t)

	_, err := executeCLI(t, "--config", cfgPath, "ask", "question?")
	assert.Error(t, err)
}
