// Package api exposes the coordination core over HTTP for the dashboard and
// SDK backends. Handlers are thin: validation, a call into the core, and a
// status code; contention maps to 409, admission denial to 429.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlashq/atlas/internal/heartbeat"
	"github.com/atlashq/atlas/internal/lease"
	"github.com/atlashq/atlas/internal/models"
	"github.com/atlashq/atlas/internal/provision"
	"github.com/atlashq/atlas/internal/ratelimit"
	"github.com/atlashq/atlas/internal/remote"
)

// NodeStore is the slice of the node repository the handlers need.
type NodeStore interface {
	GetByID(ctx context.Context, id string) (*models.Node, error)
	GetProvisionStatus(ctx context.Context, nodeID string) (string, string, error)
	LoadResults(ctx context.Context, nodeID string) ([]provision.StepResult, error)
}

// SandboxStore is the slice of the sandbox repository the handlers need.
type SandboxStore interface {
	Create(ctx context.Context, sandbox *models.Sandbox) error
	GetByID(ctx context.Context, id, orgID string) (*models.Sandbox, error)
	TouchActivity(ctx context.Context, id, orgID string) error
}

// ExecDialer opens a remote-exec channel to a node. The production
// implementation dials SSH; tests substitute a fake.
type ExecDialer interface {
	Dial(ctx context.Context, node *models.Node) (remote.Exec, error)
}

type Handler struct {
	leases       *lease.Manager
	limits       *ratelimit.Limiter
	beats        *heartbeat.Registry
	runner       *provision.Runner
	nodes        NodeStore
	sandboxes    SandboxStore
	dialer       ExecDialer
	heartbeatTTL time.Duration
	leaseTTL     time.Duration
}

func New(leases *lease.Manager, limits *ratelimit.Limiter, beats *heartbeat.Registry, runner *provision.Runner, nodes NodeStore, sandboxes SandboxStore, dialer ExecDialer, heartbeatTTL, leaseTTL time.Duration) *Handler {
	return &Handler{
		leases:       leases,
		limits:       limits,
		beats:        beats,
		runner:       runner,
		nodes:        nodes,
		sandboxes:    sandboxes,
		dialer:       dialer,
		heartbeatTTL: heartbeatTTL,
		leaseTTL:     leaseTTL,
	}
}

func (h *Handler) Register(router *gin.Engine) {
	v1 := router.Group("/v1")

	v1.POST("/nodes/:id/heartbeat", h.recordHeartbeat)
	v1.GET("/nodes/:id/alive", h.nodeAlive)
	v1.GET("/nodes/:id/occupancy", h.nodeOccupancy)

	v1.POST("/leases", h.acquireLease)
	v1.DELETE("/leases/:node/:slot", h.releaseLease)
	v1.POST("/leases/:node/:slot/renew", h.renewLease)

	v1.POST("/ratelimit/check", h.checkRateLimit)

	v1.POST("/sandboxes", h.createSandbox)
	v1.GET("/sandboxes/:id", h.getSandbox)
	v1.POST("/sandboxes/:id/activity", h.touchSandboxActivity)

	v1.POST("/nodes/:id/provision", h.startProvisioning)
	v1.POST("/nodes/:id/provision/retry", h.retryProvisioning)
	v1.GET("/nodes/:id/provision", h.provisionStatus)
}

type heartbeatRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func (h *Handler) recordHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	// Body is optional; the configured TTL is the default.
	_ = c.ShouldBindJSON(&req)

	ttl := h.heartbeatTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	if err := h.beats.Record(c.Request.Context(), c.Param("id"), ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) nodeAlive(c *gin.Context) {
	alive, err := h.beats.IsAlive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alive": alive})
}

func (h *Handler) nodeOccupancy(c *gin.Context) {
	count, err := h.leases.CountActiveLeases(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_leases": count})
}

type acquireLeaseRequest struct {
	NodeID     string `json:"node_id" binding:"required"`
	Slot       int    `json:"slot"`
	SandboxID  string `json:"sandbox_id" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (h *Handler) acquireLease(c *gin.Context) {
	var req acquireLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ttl := h.leaseTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	acquired, err := h.leases.Acquire(c.Request.Context(), req.NodeID, req.Slot, req.SandboxID, ttl)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{"error": "slot already leased"})
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) releaseLease(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	if err := h.leases.Release(c.Request.Context(), c.Param("node"), slot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type renewLeaseRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func (h *Handler) renewLease(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	var req renewLeaseRequest
	_ = c.ShouldBindJSON(&req)
	ttl := h.leaseTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	renewed, err := h.leases.Renew(c.Request.Context(), c.Param("node"), slot, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !renewed {
		// The lease expired out from under the caller; it must re-acquire.
		c.JSON(http.StatusConflict, gin.H{"renewed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"renewed": true})
}

type rateLimitRequest struct {
	OrgID         string `json:"org_id" binding:"required"`
	Category      string `json:"category" binding:"required"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds" binding:"required"`
}

func (h *Handler) checkRateLimit(c *gin.Context) {
	var req rateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.limits.CheckAndConsume(c.Request.Context(), req.OrgID, req.Category,
		req.Limit, time.Duration(req.WindowSeconds)*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !result.Allowed {
		c.JSON(http.StatusTooManyRequests, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

type createSandboxRequest struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id" binding:"required"`
	NodeID    string `json:"node_id" binding:"required"`
	SlotIndex int    `json:"slot_index"`
}

// createSandbox registers a sandbox row after placement, once the caller
// holds the slot lease.
func (h *Handler) createSandbox(c *gin.Context) {
	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := time.Now()
	sandbox := &models.Sandbox{
		ID:           req.ID,
		OrgID:        req.OrgID,
		NodeID:       req.NodeID,
		SlotIndex:    req.SlotIndex,
		Status:       models.SandboxStatusProvisioning,
		LastActiveAt: &now,
	}
	if err := h.sandboxes.Create(c.Request.Context(), sandbox); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sandbox)
}

func (h *Handler) getSandbox(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}

	sandbox, err := h.sandboxes.GetByID(c.Request.Context(), c.Param("id"), orgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sandbox)
}

// touchSandboxActivity bumps the activity timestamp that the idle sweeper
// reads; node agents call it on user interaction.
func (h *Handler) touchSandboxActivity(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}

	if err := h.sandboxes.TouchActivity(c.Request.Context(), c.Param("id"), orgID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) startProvisioning(c *gin.Context) {
	h.provision(c, h.runner.StartAsync)
}

func (h *Handler) retryProvisioning(c *gin.Context) {
	h.provision(c, h.runner.RetryAsync)
}

// provision launches the run in the background and answers 202 with the
// initial step states; a run takes minutes, far past the server's write
// timeout, so the caller polls GET /provision for progress. Conflicts and
// nothing-to-retry errors still surface synchronously.
func (h *Handler) provision(c *gin.Context, launch func(context.Context, remote.Exec, string) ([]provision.StepResult, error)) {
	nodeID := c.Param("id")

	node, err := h.nodes.GetByID(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	exec, err := h.dialer.Dial(c.Request.Context(), node)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	results, err := launch(c.Request.Context(), exec, nodeID)
	switch {
	case errors.Is(err, provision.ErrAlreadyProvisioning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, provision.ErrNoFailedStep), errors.Is(err, provision.ErrNeverProvisioned):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"steps": results})
}

func (h *Handler) provisionStatus(c *gin.Context) {
	nodeID := c.Param("id")

	status, failureReason, err := h.nodes.GetProvisionStatus(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	steps, err := h.nodes.LoadResults(c.Request.Context(), nodeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"failure_reason": failureReason,
		"steps":          steps,
	})
}

func slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot index"})
		return 0, false
	}
	return slot, true
}
