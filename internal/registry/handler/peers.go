package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/agentdex/agentdex/internal/federation"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// peerStore is the persistence side of peer administration.
// *federation.Repository satisfies this.
type peerStore interface {
	CreatePeer(ctx context.Context, p *federation.PeerRegistry) error
	UpdatePeer(ctx context.Context, p *federation.PeerRegistry) error
	DeletePeer(ctx context.Context, id uuid.UUID) error
	GetPeer(ctx context.Context, id uuid.UUID) (*federation.PeerRegistry, error)
	ListPeers(ctx context.Context, enabledOnly bool) ([]*federation.PeerRegistry, error)
	ListRuns(ctx context.Context, peerID uuid.UUID, limit int) ([]*federation.SyncRun, error)
}

// syncTrigger starts a background sync. *federation.Manager satisfies this.
type syncTrigger interface {
	Trigger(ctx context.Context, peerID uuid.UUID) error
}

// PeerHandler serves peer registry administration: CRUD, manual sync, and
// run history. Every route requires Administrator.
type PeerHandler struct {
	repo    peerStore
	manager syncTrigger
	limiter *Limiter
	logger  *zap.Logger
}

// NewPeerHandler creates a PeerHandler. manager may be nil when federation
// is disabled; sync triggers then respond 503.
func NewPeerHandler(repo peerStore, manager syncTrigger, limiter *Limiter, logger *zap.Logger) *PeerHandler {
	return &PeerHandler{repo: repo, manager: manager, limiter: limiter, logger: logger}
}

// Register mounts the peer routes.
func (h *PeerHandler) Register(rg *gin.RouterGroup) {
	peers := rg.Group("/peers", RequireRole(model.RoleAdministrator), h.limiter.Middleware(ClassSyncAdmin))
	{
		peers.GET("", h.ListPeers)
		peers.POST("", h.CreatePeer)
		peers.GET("/:id", h.GetPeer)
		peers.PUT("/:id", h.UpdatePeer)
		peers.DELETE("/:id", h.DeletePeer)
		peers.POST("/:id/sync", h.TriggerSync)
		peers.GET("/:id/runs", h.ListRuns)
	}
}

type peerRequest struct {
	Name             string `json:"name" binding:"required"`
	BaseURL          string `json:"baseUrl" binding:"required,url"`
	TenantID         string `json:"tenantId" binding:"required"`
	TokenURL         string `json:"tokenUrl"`
	ClientID         string `json:"clientId"`
	ClientSecret     string `json:"clientSecret"`
	SyncIntervalSecs int    `json:"syncIntervalSecs"`
	Enabled          *bool  `json:"enabled"`
}

func (r *peerRequest) apply(p *federation.PeerRegistry) {
	p.Name = r.Name
	p.BaseURL = r.BaseURL
	p.TenantID = r.TenantID
	p.TokenURL = r.TokenURL
	p.ClientID = r.ClientID
	p.ClientSecret = r.ClientSecret
	p.SyncInterval = time.Duration(r.SyncIntervalSecs) * time.Second
	if p.SyncInterval <= 0 {
		p.SyncInterval = time.Hour
	}
	p.Enabled = r.Enabled == nil || *r.Enabled
}

// CreatePeer handles POST /peers.
func (h *PeerHandler) CreatePeer(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "name, baseUrl, and tenantId are required"))
		return
	}

	var peer federation.PeerRegistry
	req.apply(&peer)
	if err := h.repo.CreatePeer(c.Request.Context(), &peer); err != nil {
		h.logger.Error("create peer", zap.String("name", req.Name), zap.Error(err))
		respondErr(c, err)
		return
	}

	h.logger.Info("peer registered",
		zap.String("peer", peer.Name), zap.String("base_url", peer.BaseURL))
	c.JSON(http.StatusCreated, gin.H{"peer": peer})
}

// ListPeers handles GET /peers.
func (h *PeerHandler) ListPeers(c *gin.Context) {
	peers, err := h.repo.ListPeers(c.Request.Context(), false)
	if err != nil {
		h.logger.Error("list peers", zap.Error(err))
		respondErr(c, err)
		return
	}
	if peers == nil {
		peers = []*federation.PeerRegistry{}
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers, "count": len(peers)})
}

// GetPeer handles GET /peers/:id.
func (h *PeerHandler) GetPeer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("peer"))
		return
	}
	peer, err := h.repo.GetPeer(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer})
}

// UpdatePeer handles PUT /peers/:id.
func (h *PeerHandler) UpdatePeer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("peer"))
		return
	}
	peer, err := h.repo.GetPeer(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "name, baseUrl, and tenantId are required"))
		return
	}
	req.apply(peer)
	if err := h.repo.UpdatePeer(c.Request.Context(), peer); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer})
}

// DeletePeer handles DELETE /peers/:id.
func (h *PeerHandler) DeletePeer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("peer"))
		return
	}
	if err := h.repo.DeletePeer(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	h.logger.Info("peer deleted", zap.String("peer_id", id.String()))
	c.Status(http.StatusNoContent)
}

// TriggerSync handles POST /peers/:id/sync — accepts and starts a sync in
// the background.
func (h *PeerHandler) TriggerSync(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("peer"))
		return
	}
	if h.manager == nil {
		respondErr(c, model.E(model.CodeOverloaded, "federation is disabled"))
		return
	}
	if err := h.manager.Trigger(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sync started", "peerId": id})
}

// ListRuns handles GET /peers/:id/runs — recent sync runs, newest first.
func (h *PeerHandler) ListRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("peer"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	runs, err := h.repo.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	if runs == nil {
		runs = []*federation.SyncRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
