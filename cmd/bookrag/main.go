// Package main is the entry point for the bookrag service.
package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/bookrag/cmd/bookrag/app"
)

func main() {
	// OPENROUTER_API_KEY and COHERE_API_KEY may live in a local .env file.
	_ = godotenv.Load()

	app.NewApp().Run()
}
