package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Wuchinator/beacon-analytics/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	maxBody int64
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHandler(service *Service, maxBody int64, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		maxBody: maxBody,
		metrics: m,
		logger:  logger,
	}
}

// RegisterRoutes mounts the beacon endpoint. The engine must have
// HandleMethodNotAllowed enabled for other methods to get 405.
func (h *Handler) RegisterRoutes(r gin.IRouter, allowedOrigins []string) {
	group := r.Group("/api/event", CORSMiddleware(allowedOrigins))
	group.POST("", h.Track)
	group.OPTIONS("", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// Track handles POST /api/event. Success has no body.
func (h *Handler) Track(c *gin.Context) {
	payload, err := h.decode(c)
	if err != nil {
		switch {
		case errors.Is(err, ErrPayloadTooLarge):
			h.metrics.ObserveReceived(metrics.ResultTooLarge)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		default:
			h.metrics.ObserveReceived(metrics.ResultMalformed)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	err = h.service.Track(c.Request.Context(), payload, c.ClientIP(), c.Request.Header)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			h.metrics.ObserveReceived(metrics.ResultInvalid)
			c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Errors})
			return
		}
		h.logger.Error("Failed to track event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	h.metrics.ObserveReceived(metrics.ResultAccepted)
	c.Status(http.StatusNoContent)
}

// decode enforces the body limit before parsing and requires a top-level JSON object.
func (h *Handler) decode(c *gin.Context) (map[string]any, error) {
	if c.Request.ContentLength > h.maxBody {
		return nil, ErrPayloadTooLarge
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, ErrMalformedPayload
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, ErrMalformedPayload
	}
	if dec.More() {
		return nil, ErrMalformedPayload
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, ErrMalformedPayload
	}
	return payload, nil
}

// CORSMiddleware allows the tracking snippet to post beacons from the listed origins.
// A "*" entry allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Add("Vary", "Origin")
			} else if allowAll {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
