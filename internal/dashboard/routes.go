package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/missionctl/internal/alert"
	"github.com/zulandar/missionctl/internal/report"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, loc *time.Location) {
	router.GET("/healthz", handleHealth(db))

	api := router.Group("/api")
	api.GET("/summary", handleSummary(db, loc))
	api.GET("/agents", handleAgents(db))
	api.GET("/alerts", handleAlerts(db))
	api.GET("/loops", handleLoops(db))
	api.GET("/loops/:id", handleLoopDetail(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleSummary(db *gorm.DB, loc *time.Location) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := report.BuildDailySummary(db, time.Now(), loc)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleAgents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := intQuery(c, "days", 7)
		rows, err := report.BuildAgentBreakdown(db, days, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": rows})
	}
}

func handleAlerts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		alerts, err := alert.Unresolved(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	}
}

func handleLoops(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		loops, err := listLoops(db, loopFilters{
			Stage: c.Query("stage"),
			Agent: c.Query("agent"),
			Limit: intQuery(c, "limit", 100),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loops": loops})
	}
}

func handleLoopDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loop id"})
			return
		}
		detail, err := loopDetail(db, uint(id))
		if errors.Is(err, errLoopNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "loop not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// intQuery parses an integer query parameter, falling back to def on absence
// or garbage.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
