package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/usecase"
)

// CrawlRunner starts crawl runs and serves their results
type CrawlRunner interface {
	Start(ctx context.Context, request usecase.CrawlRequest) (*domain.RunResult, error)
	Get(ctx context.Context, id string) (*domain.RunResult, error)
	Records(ctx context.Context, id, partition string) ([]*domain.Record, error)
}

// HistoryReader serves the stored run-to-run history
type HistoryReader interface {
	Entries(ctx context.Context, partition string, limit int) ([]domain.HistoryEntry, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	crawls  CrawlRunner
	history HistoryReader
	log     logrus.FieldLogger
}

// NewHandler creates a new HTTP handler. history may be nil when history
// tracking is disabled.
func NewHandler(crawls CrawlRunner, history HistoryReader, log logrus.FieldLogger) *Handler {
	return &Handler{crawls: crawls, history: history, log: log}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "car-scraper",
		"version": "1.0.0",
	})
}

// StartCrawl handles POST /api/v1/crawls. An empty body crawls the
// configured default partitions.
func (h *Handler) StartCrawl(c *gin.Context) {
	var req usecase.CrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be JSON with an optional partitions list",
		})
		return
	}

	run, err := h.crawls.Start(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Location", "/api/v1/crawls/"+run.ID)
	c.JSON(http.StatusAccepted, run)
}

// GetCrawl handles GET /api/v1/crawls/:id
func (h *Handler) GetCrawl(c *gin.Context) {
	run, err := h.crawls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetRecords handles GET /api/v1/crawls/:id/records?partition=de
func (h *Handler) GetRecords(c *gin.Context) {
	partition := c.Query("partition")
	if partition == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "partition query parameter is required",
		})
		return
	}

	records, err := h.crawls.Records(c.Request.Context(), c.Param("id"), partition)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"partition": partition,
		"count":     len(records),
		"records":   records,
	})
}

// GetHistory handles GET /api/v1/history?partition=de&limit=10
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "history_disabled",
			"message": "History tracking is disabled",
		})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	entries, err := h.history.Entries(c.Request.Context(), c.Query("partition"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// respondError maps domain errors to HTTP status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, domain.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Crawl run not found"})
	case errors.Is(err, domain.ErrUnknownPartition):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An unexpected error occurred"})
	}
}
