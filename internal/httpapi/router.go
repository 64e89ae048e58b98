// Package httpapi serves the operational endpoints: liveness, provider
// health and classification stats.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"casetriage/internal/domain"
	"casetriage/internal/integrations/llm"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 365
)

type HealthReporter interface {
	HealthStatus() []llm.ProviderHealth
}

type StatsFunc func(since time.Time) (domain.ClassificationStats, error)

// NewRouter builds the gin engine. stats may be nil, which leaves /stats
// unregistered.
func NewRouter(health HealthReporter, stats StatsFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/providers/health", func(c *gin.Context) {
		providers := health.HealthStatus()
		status := "ok"
		unavailable := 0
		for _, p := range providers {
			if p.Status != llm.HealthHealthy {
				status = "degraded"
			}
			if p.Status == llm.HealthUnavailable {
				unavailable++
			}
		}
		if len(providers) > 0 && unavailable == len(providers) {
			status = "unavailable"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "providers": providers})
	})

	if stats != nil {
		r.GET("/stats", func(c *gin.Context) {
			days := defaultStatsDays
			if raw := c.Query("days"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 || n > maxStatsDays {
					c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
					return
				}
				days = n
			}
			since := time.Now().UTC().AddDate(0, 0, -days)
			s, err := stats(since)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"days":                  days,
				"total_classifications": s.TotalClassifications,
				"needs_review":          s.NeedsReview,
				"avg_confidence":        s.AvgConfidence,
				"buckets": gin.H{
					"below_50": s.BucketBelow50,
					"50_to_70": s.Bucket50to70,
					"70_to_90": s.Bucket70to90,
					"90_plus":  s.Bucket90Plus,
				},
			})
		})
	}

	return r
}
