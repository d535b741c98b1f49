package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetReadings handles the GET / request. The action query parameter
// selects between the latest reading, a bounded history window, and a
// discovery payload describing the API.
func (h *Handler) GetReadings(c *gin.Context) {
	switch c.Query("action") {
	case "latest":
		h.getLatest(c)
	case "history":
		h.getHistory(c)
	default:
		// Unknown or absent action is not an error: the device setup
		// guide tells people to open the URL in a browser to check the
		// API is up.
		c.JSON(http.StatusOK, gin.H{
			"status":  "info",
			"message": "API is running",
			"endpoints": gin.H{
				"POST /":                         "Upload sensor data",
				"GET /?action=latest":            "Get latest reading",
				"GET /?action=history&limit=100": "Get historical data",
			},
		})
	}
}

func (h *Handler) getLatest(c *gin.Context) {
	reading, err := h.store.LatestReading(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if reading == nil {
		// An empty store is a fresh install, not a failure. The
		// dashboard renders the zero placeholder until data arrives.
		c.JSON(http.StatusOK, gin.H{
			"pm1_0":     0,
			"pm2_5":     0,
			"pm10":      0,
			"timestamp": nil,
		})
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (h *Handler) getHistory(c *gin.Context) {
	limit := h.cfg.Query.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit > h.cfg.Query.MaxLimit {
		limit = h.cfg.Query.MaxLimit
	}
	if limit < 0 {
		limit = 0
	}

	readings, err := h.store.RecentReadings(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, readings)
}
