// Package app provides the bookrag server application.
package app

import (
	"context"
	"fmt"

	"github.com/kart-io/bookrag/cmd/bookrag/app/options"
	"github.com/kart-io/bookrag/internal/bookrag"
	"github.com/kart-io/bookrag/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `bookrag question answering service

The retrieval core of the book reader. It answers questions about a book
using only the text the reader has already seen.

This server provides:
  - Per-book vector indexes, persisted on disk and rebuilt on demand
  - Spoiler-free retrieval bounded by the reader's current page
  - Keyword retrieval, chapter and book summaries
  - OpenRouter generation with model fallback and an optional Cohere backup`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(bookrag.Name),
		app.WithShortDescription("Book reader retrieval augmented QA service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func(ctx context.Context) error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return server.Run(ctx)
	}
}
