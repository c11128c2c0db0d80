// Instance HTTP handlers.
//
// REST endpoints for provider session lifecycle:
//   - POST   /instances               (create + webhook registration)
//   - GET    /instances               (list, paginated)
//   - GET    /instances/{id}          (fetch)
//   - DELETE /instances/{id}          (delete, provider-side best-effort)
//   - POST   /instances/{id}/connect  (pairing code)
//   - GET    /instances/{id}/status   (live state, reconciled)
//   - POST   /instances/{id}/sync     (pull reconciliation)
//
// Handlers are transport-thin: they validate input, call the management
// service, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/reconcile"
	"github.com/rfdias/zapagent/internal/services"
	"github.com/rfdias/zapagent/internal/utils"
)

// InstanceService defines the management operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type InstanceService interface {
	Create(ctx context.Context, name string) (*domain.Instance, error)
	Get(ctx context.Context, id string) (*domain.Instance, error)
	List(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error)
	Delete(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) (*provider.QRCode, error)
	Restart(ctx context.Context, id string) error
	Logout(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*domain.Instance, error)
	Sync(ctx context.Context, id string) (*reconcile.SyncSummary, error)
	SaveAgent(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error)
	GetAgent(ctx context.Context, instanceID string) (*domain.AgentConfig, error)
}

// Handlers groups the management API endpoints.
type Handlers struct {
	svc InstanceService
}

// New constructs a Handlers instance bound to the management service.
func New(svc InstanceService) *Handlers {
	return &Handlers{svc: svc}
}

// CreateInstanceRequest is the JSON payload for creating an instance.
type CreateInstanceRequest struct {
	Name string `json:"name" binding:"required,min=3,max=64"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListInstancesResponse wraps a page of instances and pagination information.
type ListInstancesResponse struct {
	Instances  []domain.Instance `json:"instances"`
	Pagination Pagination        `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// failInstance translates service errors into the standard envelope.
func failInstance(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidName):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInstanceExists):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrInstanceNotFound),
		errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, provider.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case provider.IsServerError(err):
		fail(c, http.StatusBadGateway, ErrCodeProviderDown, "provider unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// CreateInstance handles POST /instances.
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	inst, err := h.svc.Create(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusCreated, inst)
}

// ListInstances handles GET /instances.
func (h *Handlers) ListInstances(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.svc.List(c.Request.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListInstancesResponse{
		Instances: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetInstance handles GET /instances/:id.
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// DeleteInstance handles DELETE /instances/:id.
func (h *Handlers) DeleteInstance(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failInstance(c, err)
		return
	}
	noContent(c)
}

// ConnectInstance handles POST /instances/:id/connect.
func (h *Handlers) ConnectInstance(c *gin.Context) {
	qr, err := h.svc.Connect(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, qr)
}

// RestartInstance handles POST /instances/:id/restart.
func (h *Handlers) RestartInstance(c *gin.Context) {
	if err := h.svc.Restart(c.Request.Context(), c.Param("id")); err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "restarting"})
}

// LogoutInstance handles POST /instances/:id/logout.
func (h *Handlers) LogoutInstance(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), c.Param("id")); err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "logged_out"})
}

// InstanceStatus handles GET /instances/:id/status.
func (h *Handlers) InstanceStatus(c *gin.Context) {
	inst, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"id":     inst.ID,
		"name":   inst.Name,
		"status": inst.Status,
	})
}

// SyncInstance handles POST /instances/:id/sync.
func (h *Handlers) SyncInstance(c *gin.Context) {
	sum, err := h.svc.Sync(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrInstanceNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, sum)
}
