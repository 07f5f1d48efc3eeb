package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pdfchat/config"
	"pdfchat/rag"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "pdfchat",
		Short:        "Ask questions about uploaded PDF documents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default pdfchat.yaml in . or ./config)")

	load := func() (*config.Config, *App, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		app, err := buildApp(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, app, nil
	}

	root.AddCommand(newServeCmd(load), newIngestCmd(load), newAskCmd(load))
	return root
}

type loader func() (*config.Config, *App, error)

const memoryStoreHelp = "Requires a persistent vector store: vector_store.type=memory keeps vectors " +
	"inside a single process and only works under serve."

var errMemoryStoreCLI = errors.New("vector_store.type=memory does not persist between commands; " +
	"use a pinecone store or run pdfchat serve")

// loadPersistent is load for one-shot commands, which cannot share an
// in-memory store with any other process.
func loadPersistent(load loader) (*App, error) {
	cfg, app, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.VectorStore.Type == config.StoreMemory {
		return nil, errMemoryStoreCLI
	}
	return app, nil
}

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, app, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return NewServer(app, cfg.Server).Run(ctx)
		},
	}
}

func newIngestCmd(load loader) *cobra.Command {
	var asText bool
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Extract, chunk, embed and store a document",
		Long:  "Extract, chunk, embed and store a document.\n\n" + memoryStoreHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadPersistent(load)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Store.EnsureIndex(ctx); err != nil {
				return fmt.Errorf("prepare vector index: %w", err)
			}

			name := filepath.Base(args[0])
			var doc rag.Document
			if asText {
				doc, err = app.Pipeline.IngestText(ctx, name, string(data))
			} else {
				doc, err = app.Pipeline.Ingest(ctx, name, data)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documentId: %s\nfileName: %s\ntextLength: %d\n",
				doc.ID, doc.FileName, doc.TextLength)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asText, "text", false, "treat the file as plain text instead of PDF")
	return cmd
}

func newAskCmd(load loader) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question about a stored document",
		Long:  "Answer a question about a stored document.\n\n" + memoryStoreHelp,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadPersistent(load)
			if err != nil {
				return err
			}
			answer, err := app.Assembler.Answer(cmd.Context(), strings.Join(args, " "), documentID)
			if err != nil {
				return err
			}
			printAnswer(cmd, answer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "document ID returned by ingest")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func printAnswer(cmd *cobra.Command, answer rag.Answer) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	if len(answer.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, s := range answer.Sources {
		fmt.Fprintf(out, "  [chunk %d, score %.3f] %s\n", s.ChunkIndex, s.Score, s.Text)
	}
}
