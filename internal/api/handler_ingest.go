package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"air-quality-backend/config"
	"air-quality-backend/internal/model"
)

// requiredFields are the particulate concentrations every upload must
// carry. A request missing any of them is rejected outright.
var requiredFields = []string{"pm1_0", "pm2_5", "pm10"}

// PostReading handles the POST / request: one reading per call, sent by
// the device over JSON or form-encoded bodies depending on firmware
// revision.
func (h *Handler) PostReading(c *gin.Context) {
	payload, err := readPayload(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid data format"})
		return
	}

	if h.cfg.Ingest.APIKey != "" {
		key, _ := payload["api_key"].(string)
		if key != h.cfg.Ingest.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
	}

	values := make(map[string]float64, len(requiredFields))
	for _, field := range requiredFields {
		// A JSON null decodes to a nil value; the device never sends one
		// on purpose, so it counts as the field being absent.
		raw, ok := payload[field]
		if !ok || raw == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing required fields"})
			return
		}
		value, numeric := coerceFloat(raw)
		if !numeric && h.cfg.Ingest.NumericPolicy == config.PolicyReject {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": fmt.Sprintf("field %q is not numeric", field),
			})
			return
		}
		values[field] = value
	}

	reading := model.SensorReading{
		PM1:  values["pm1_0"],
		PM25: values["pm2_5"],
		PM10: values["pm10"],
	}
	if err := h.store.CreateReading(c.Request.Context(), &reading); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Database error: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Data saved successfully",
		"id":      reading.ID,
		"data":    reading,
	})
}

// readPayload decodes the request body into a flat field map. JSON is
// the normal transport; form encoding is kept for the legacy firmware.
func readPayload(c *gin.Context) (map[string]any, error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(1 << 20); err != nil && err != http.ErrNotMultipart {
			return nil, err
		}
		payload := make(map[string]any, len(c.Request.PostForm))
		for key, vals := range c.Request.PostForm {
			if len(vals) > 0 {
				payload[key] = vals[0]
			}
		}
		return payload, nil
	}

	var payload map[string]any
	if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("empty payload")
	}
	return payload, nil
}

// coerceFloat converts a payload value to float64. The second return is
// false when the value is not numeric, in which case the zero value is
// what the coerce policy carries through.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
