// Package router provides book RAG service routing.
package router

import (
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/bookrag/handler"
	"github.com/kart-io/bookrag/pkg/infra/server"
)

// Register registers the book RAG routes.
func Register(mgr *server.Manager, h *handler.Handler) error {
	logger.Info("Registering book RAG routes...")

	router := mgr.HTTPServer().Engine()

	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)

	// 阅读器使用的原有接口
	router.POST("/summarize-chunk", h.SummarizeChunk)
	router.POST("/summarize", h.Summarize)
	router.POST("/ask-question", h.AskQuestion)
	router.POST("/qa", h.QA)

	v1 := router.Group("/v1")
	{
		books := v1.Group("/books")
		{
			books.GET("/cache", h.CacheStats)
			books.POST("/:book_id/warm", h.WarmBook)
			books.DELETE("/:book_id", h.EvictBook)
		}
		v1.GET("/stats", h.Stats)
	}

	logger.Info("HTTP routes registered")
	return nil
}
