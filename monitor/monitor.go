package monitor

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by the persistence adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealth serves /health. The database is pinged with a short timeout
// and a failed ping answers 503 so load balancers drain the instance.
func RegisterHealth(router gin.IRoutes, db Pinger, service string) {
	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": service,
			"uptime":  time.Since(started).Round(time.Second).String(),
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				body["status"] = "degraded"
				body["database"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
			body["database"] = "ok"
		}
		c.JSON(http.StatusOK, body)
	})
}

// RegisterMetrics exposes registry at /metrics.
func RegisterMetrics(router gin.IRoutes, registry *prometheus.Registry) {
	if registry == nil {
		return
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	router.GET("/metrics", gin.WrapH(handler))
}

// LogsHandler returns the tail of the API log file. ?bytes= caps the size.
func LogsHandler(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := int64(64 << 10)
		if v, err := strconv.ParseInt(c.Query("bytes"), 10, 64); err == nil && v > 0 && v <= 4<<20 {
			limit = v
		}

		f, err := os.Open(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Unable to read log"})
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Unable to read log"})
			return
		}
		if info.Size() > limit {
			if _, err := f.Seek(info.Size()-limit, io.SeekStart); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Unable to read log"})
				return
			}
		}
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Unable to read log"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	}
}
