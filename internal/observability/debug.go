package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var startedAt = time.Now()

// DebugRouter builds the optional debug surface for long-running processes
// embedding the client: /health plus the Prometheus scrape endpoint.
func DebugRouter(logger zerolog.Logger) *gin.Engine {
	RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "eshet-client",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeDebug runs DebugRouter on addr. It blocks; run it on its own
// goroutine.
func ServeDebug(addr string, logger zerolog.Logger) error {
	return DebugRouter(logger).Run(addr)
}
