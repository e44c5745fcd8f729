// Package server exposes a Facilitator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/types"
	"github.com/vitwit/x402-deferred/utils"
)

const (
	// maxBatch caps the number of requests accepted by /verify/batch.
	maxBatch = 100

	// maxBodyBytes caps every request body, batches included.
	maxBodyBytes = 1 << 20
)

// Facilitator is satisfied by *deferred.Facilitator.
type Facilitator interface {
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerificationResult, error)
	QuickVerify(req *types.VerifyRequest) (*types.VerificationResult, error)
	BatchVerify(ctx context.Context, reqs []*types.VerifyRequest) ([]*types.VerificationResult, error)
	Supported() *types.SupportedResponse
}

// Handler serves the facilitator routes.
type Handler struct {
	facilitator Facilitator
	log         logger.Logger
}

func NewHandler(f Facilitator, log logger.Logger) *Handler {
	return &Handler{facilitator: f, log: logger.OrNoop(log)}
}

// Register mounts the verification routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/verify", h.handleVerify)
	r.POST("/verify/quick", h.handleQuickVerify)
	r.POST("/verify/batch", h.handleBatchVerify)
	r.GET("/supported", h.handleSupported)
}

// NewRouter builds the engine with health and, when gatherer is non-nil,
// metrics endpoints next to the facilitator routes.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h.Register(r)
	return r
}

func (h *Handler) handleVerify(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	result, err := h.facilitator.Verify(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleQuickVerify(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	result, err := h.facilitator.QuickVerify(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleBatchVerify(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		h.writeError(c, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("batch body must be a JSON array: %v", err),
		})
		return
	}
	if len(raw) > maxBatch {
		h.writeError(c, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("batch of %d exceeds limit of %d", len(raw), maxBatch),
		})
		return
	}

	reqs := make([]*types.VerifyRequest, len(raw))
	for i, item := range raw {
		req, err := utils.ParseVerifyRequest(item)
		if err != nil {
			h.writeError(c, &types.X402Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("request %d: %v", i, err),
			})
			return
		}
		reqs[i] = req
	}

	results, err := h.facilitator.BatchVerify(c.Request.Context(), reqs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, h.facilitator.Supported())
}

func (h *Handler) bindRequest(c *gin.Context) (*types.VerifyRequest, bool) {
	body, ok := h.readBody(c)
	if !ok {
		return nil, false
	}

	req, err := utils.ParseVerifyRequest(body)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return req, true
}

// readBody reads at most maxBodyBytes of the request body.
func (h *Handler) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, &types.X402Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return nil, false
		}
		h.writeError(c, &types.X402Error{Code: types.ErrInvalidPayload, Message: "read body"})
		return nil, false
	}
	return body, true
}

// writeError maps envelope errors to 400 and anything else to 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var xerr *types.X402Error
	if errors.As(err, &xerr) {
		c.JSON(http.StatusBadRequest, xerr)
		return
	}

	h.log.Error("request failed", map[string]any{
		"path":  c.FullPath(),
		"error": err,
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
