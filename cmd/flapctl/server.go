package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/goscar/internal/observability"
)

const serviceName = "flapctl"

// newStatusRouter exposes the decode report and engine metrics.
func newStatusRouter(rep *report, corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/metrics"))
	r.Use(observability.RequestMetrics(serviceName))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"service": serviceName,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/report", func(c *gin.Context) {
		c.JSON(http.StatusOK, rep)
	})
	r.GET("/frames/:index", func(c *gin.Context) {
		var uri struct {
			Index int `uri:"index" binding:"required,min=1"`
		}
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if uri.Index > len(rep.Frames) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such frame"})
			return
		}
		c.JSON(http.StatusOK, rep.Frames[uri.Index-1])
	})
	return r
}
