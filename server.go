package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"pdfchat/config"
	"pdfchat/rag"
)

const defaultTextUploadName = "text-upload.txt"

// Server exposes document upload and chat over HTTP.
type Server struct {
	pipeline  *rag.Pipeline
	assembler *rag.Assembler
	store     rag.VectorStore
	cfg       config.ServerConfig
	logger    *log.Logger
}

func NewServer(app *App, cfg config.ServerConfig) *Server {
	return &Server{
		pipeline:  app.Pipeline,
		assembler: app.Assembler,
		store:     app.Store,
		cfg:       cfg,
		logger:    newLogger("[HTTP] "),
	}
}

func (s *Server) maxUploadBytes() int64 {
	return s.cfg.MaxUploadMB << 20
}

// Echo builds the router with middleware and all routes.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// per-route middleware: an echo Group adds catch-all routes that answer
	// wrong methods with 404 instead of 405
	limiter := s.rateLimiter()
	api := func(extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
		mw := []echo.MiddlewareFunc{limiter}
		if s.cfg.RequestTimeout > 0 {
			mw = append(mw, middleware.ContextTimeout(s.cfg.RequestTimeout))
		}
		return append(mw, extra...)
	}
	// multipart framing adds a little on top of the file itself
	uploadLimit := middleware.BodyLimit(fmt.Sprintf("%dM", s.cfg.MaxUploadMB+1))

	e.GET("/api/health", s.healthHandler, api()...)
	e.POST("/api/upload", s.uploadHandler, api(uploadLimit)...)
	e.POST("/api/upload-text", s.uploadTextHandler, api(uploadLimit)...)
	e.POST("/api/chat", s.chatHandler, api(middleware.BodyLimit("1M"))...)

	if s.cfg.StaticDir != "" {
		e.Static("/", s.cfg.StaticDir)
	}
	return e
}

// rateLimiter allows each client IP cfg.RateLimit.Requests requests per
// window, refilled continuously.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	rl := s.cfg.RateLimit
	retryAfter := int(rl.Window.Seconds())
	deny := func(c echo.Context, _ string, _ error) error {
		c.Response().Header().Set("Retry-After", fmt.Sprint(retryAfter))
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"error":      "Too many requests from this IP, please try again later.",
			"retryAfter": retryAfter,
		})
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(rl.Requests) / rl.Window.Seconds()),
			Burst:     rl.Requests,
			ExpiresIn: rl.Window,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return deny(c, "", err)
		},
		DenyHandler: deny,
	})
}

// Run ensures the vector index exists, then serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.store.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("prepare vector index: %w", err)
	}

	e := s.Echo()
	addr := s.cfg.Address()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	TextLength int    `json:"textLength"`
	Message    string `json:"message"`
}

func newUploadResponse(doc rag.Document) uploadResponse {
	return uploadResponse{
		Success:    true,
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		TextLength: doc.TextLength,
		Message:    "Document processed successfully",
	}
}

// POST /api/upload  (multipart field "pdf", or "file")
func (s *Server) uploadHandler(c echo.Context) error {
	fh, err := c.FormFile("pdf")
	if err != nil {
		fh, err = c.FormFile("file")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No PDF file uploaded")
	}
	if fh.Size > s.maxUploadBytes() {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is larger than %d MB", s.cfg.MaxUploadMB))
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Uploaded file is empty")
	}
	if !isPDF(fh.Header.Get(echo.HeaderContentType), data) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Only PDF files are allowed")
	}

	s.logger.Printf("processing PDF %s (%d bytes)", fh.Filename, len(data))
	doc, err := s.pipeline.Ingest(c.Request().Context(), fh.Filename, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newUploadResponse(doc))
}

func isPDF(contentType string, data []byte) bool {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}

// POST /api/upload-text?name=notes.txt  (body: raw text)
func (s *Server) uploadTextHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}
	name := strings.TrimSpace(c.QueryParam("name"))
	if name == "" {
		name = defaultTextUploadName
	}

	doc, err := s.pipeline.IngestText(c.Request().Context(), name, string(body))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newUploadResponse(doc))
}

type chatRequest struct {
	Question   string `json:"question"`
	Message    string `json:"message"`
	DocumentID string `json:"documentId"`
}

type chatResponse struct {
	Success  bool       `json:"success"`
	Response rag.Answer `json:"response"`
}

// POST /api/chat  { "question": "...", "documentId": "..." }
func (s *Server) chatHandler(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	question := req.Question
	if strings.TrimSpace(question) == "" {
		question = req.Message
	}
	if strings.TrimSpace(question) == "" || strings.TrimSpace(req.DocumentID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Question and documentId are required")
	}

	answer, err := s.assembler.Answer(c.Request().Context(), question, req.DocumentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatResponse{Success: true, Response: answer})
}

// statusFor maps pipeline errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, rag.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, rag.ErrEmptyContent):
		return http.StatusUnprocessableEntity, "No text content found in PDF. The file may be image-based or empty."
	case errors.Is(err, rag.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, "Failed to extract text from PDF. The file may be corrupted or password-protected."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code, msg := statusFor(err)
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
