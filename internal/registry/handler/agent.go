package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentdex/agentdex/internal/cache"
	"github.com/agentdex/agentdex/internal/federation"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/internal/registry/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// peerCounter supplies the peer count for /stats.
// *federation.Repository satisfies this.
type peerCounter interface {
	ListPeers(ctx context.Context, enabledOnly bool) ([]*federation.PeerRegistry, error)
}

// AgentHandler serves the discovery and publish surface.
type AgentHandler struct {
	discovery    *service.DiscoveryService
	publish      *service.PublishService
	entitlements *service.EntitlementService
	peers        peerCounter // nil = peers omitted from /stats
	cache        *cache.Cache
	ttls         CacheTTLs
	limiter      *Limiter
	logger       *zap.Logger
}

// NewAgentHandler creates an AgentHandler. cache may be nil to serve every
// read fresh.
func NewAgentHandler(discovery *service.DiscoveryService, publish *service.PublishService, entitlements *service.EntitlementService, store *cache.Cache, ttls CacheTTLs, limiter *Limiter, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		discovery:    discovery,
		publish:      publish,
		entitlements: entitlements,
		cache:        store,
		ttls:         ttls,
		limiter:      limiter,
		logger:       logger,
	}
}

// SetPeerCounter wires the peer count into /stats.
func (h *AgentHandler) SetPeerCounter(pc peerCounter) { h.peers = pc }

// Register mounts the agent routes.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("/public", h.limiter.Middleware(ClassPublicRead),
			cached(h.cache, "list", h.ttls.List, listParams, h.ListPublic))
		agents.GET("/entitled", RequirePrincipal(), h.limiter.Middleware(ClassAuthRead),
			cached(h.cache, "list", h.ttls.List, listParams, h.ListEntitled))
		agents.GET("/:id", h.limiter.Middleware(ClassPublicRead), h.GetAgent)
		agents.GET("/:id/card", h.limiter.Middleware(ClassPublicRead),
			cached(h.cache, "card", h.ttls.Card, idParam, h.GetCard))
		agents.POST("/search", RequirePrincipal(), h.limiter.Middleware(ClassAuthRead), h.Search)
		agents.POST("/publish", RequirePrincipal(), h.limiter.Middleware(ClassWrite), h.Publish)

		agents.GET("/:id/entitlements", RequirePrincipal(), h.limiter.Middleware(ClassAuthRead), h.ListEntitlements)
		agents.POST("/:id/entitlements", RequirePrincipal(), h.limiter.Middleware(ClassWrite), h.GrantEntitlement)
		agents.DELETE("/:id/entitlements/:subject", RequirePrincipal(), h.limiter.Middleware(ClassWrite), h.RevokeEntitlement)
	}

	rg.GET("/stats", h.limiter.Middleware(ClassPublicRead), h.Stats)
}

func listParams(c *gin.Context) string {
	return c.Query("top") + "|" + c.Query("skip")
}

func idParam(c *gin.Context) string {
	return c.Param("id")
}

// window parses top/skip. An explicit top=0 is a legal empty page; an
// absent top defaults to 20. top is clamped to 100.
func window(c *gin.Context) (top, skip int, explicitZero bool) {
	top = 20
	if raw, ok := c.GetQuery("top"); ok {
		n, err := strconv.Atoi(raw)
		if err == nil {
			if n == 0 {
				return 0, 0, true
			}
			top = model.ClampLimit(n)
		}
	}
	if raw, ok := c.GetQuery("skip"); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			skip = n
		}
	}
	return top, skip, false
}

// ListPublic handles GET /agents/public — the cross-tenant public listing,
// no authentication required.
func (h *AgentHandler) ListPublic(c *gin.Context) {
	top, skip, zero := window(c)
	if zero {
		c.JSON(http.StatusOK, gin.H{"items": []any{}, "count": 0})
		return
	}

	records, err := h.discovery.ListPublic(c.Request.Context(), skip+top)
	if err != nil {
		h.logger.Error("list public agents", zap.Error(err))
		respondErr(c, err)
		return
	}
	h.respondWindow(c, records, top, skip)
}

// ListEntitled handles GET /agents/entitled — public plus entitled agents
// within the caller's tenant.
func (h *AgentHandler) ListEntitled(c *gin.Context) {
	top, skip, zero := window(c)
	if zero {
		c.JSON(http.StatusOK, gin.H{"items": []any{}, "count": 0})
		return
	}

	p := principalFromCtx(c)
	page, err := h.discovery.List(c.Request.Context(), p, nil, skip+top, model.ListFilter{})
	if err != nil {
		h.logger.Error("list entitled agents", zap.Error(err))
		respondErr(c, err)
		return
	}
	h.respondWindow(c, page.Items, top, skip)
}

func (h *AgentHandler) respondWindow(c *gin.Context, records []*model.AgentRecord, top, skip int) {
	if skip >= len(records) {
		records = nil
	} else {
		records = records[skip:]
	}
	resp := gin.H{"items": records, "count": len(records)}
	if len(records) == top {
		resp["nextSkip"] = skip + top
	}
	if records == nil {
		resp["items"] = []any{}
	}
	c.JSON(http.StatusOK, resp)
}

// GetAgent handles GET /agents/:id — record plus latest card, subject to
// visibility. An invisible agent reads as 404.
func (h *AgentHandler) GetAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("agent"))
		return
	}

	rec, version, err := h.discovery.Get(c.Request.Context(), callerOrAnonymous(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent":       rec,
		"version":     version.Version,
		"contentHash": version.ContentHash,
		"card":        json.RawMessage(version.Card),
	})
}

// GetCard handles GET /agents/:id/card — the canonical card bytes alone.
func (h *AgentHandler) GetCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("agent"))
		return
	}

	_, version, err := h.discovery.Get(c.Request.Context(), callerOrAnonymous(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", version.Card)
}

type searchRequest struct {
	Q       string `json:"q"`
	Filters struct {
		Tags      []string `json:"tags"`
		Publisher string   `json:"publisher"`
		Transport string   `json:"transport"`
		Security  []string `json:"security"`
		Public    *bool    `json:"public"`
	} `json:"filters"`
	Top  *int `json:"top"`
	Skip int  `json:"skip"`
}

// Search handles POST /agents/search — relevance-ranked search within the
// caller's visibility.
func (h *AgentHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "malformed search request"))
		return
	}

	top := 20
	if req.Top != nil {
		if *req.Top == 0 {
			c.JSON(http.StatusOK, gin.H{"items": []any{}, "count": 0})
			return
		}
		top = model.ClampLimit(*req.Top)
	}
	skip := req.Skip
	if skip < 0 {
		skip = 0
	}

	p := principalFromCtx(c)
	hits, err := h.discovery.Search(c.Request.Context(), p, service.SearchParams{
		Text:      req.Q,
		Tags:      req.Filters.Tags,
		Schemes:   req.Filters.Security,
		Transport: req.Filters.Transport,
		Publisher: req.Filters.Publisher,
		Public:    req.Filters.Public,
		Top:       top,
		Skip:      skip,
	})
	if err != nil {
		h.logger.Error("search agents", zap.Error(err))
		respondErr(c, err)
		return
	}

	type item struct {
		*model.AgentView
		Score float64 `json:"score"`
	}
	items := make([]item, 0, len(hits))
	for _, hit := range hits {
		items = append(items, item{AgentView: hit.View, Score: hit.Score})
	}

	resp := gin.H{"items": items, "count": len(items)}
	if len(items) == top {
		resp["nextSkip"] = skip + top
	}
	c.JSON(http.StatusOK, resp)
}

type publishRequest struct {
	Card    json.RawMessage `json:"card"`
	CardURL string          `json:"cardUrl"`
	Public  bool            `json:"public"`
}

// Publish handles POST /agents/publish — by value or by URL. A brand-new
// version responds 201; a byte-identical re-publish responds 200 with
// created=false.
func (h *AgentHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "malformed publish request"))
		return
	}
	if (len(req.Card) == 0) == (req.CardURL == "") {
		respondErr(c, model.E(model.CodeInvalidRequest, "exactly one of card and cardUrl is required"))
		return
	}

	outcome, err := h.publish.Publish(c.Request.Context(), service.PublishInput{
		Principal: principalFromCtx(c),
		CardJSON:  req.Card,
		CardURL:   req.CardURL,
		Public:    req.Public,
	})
	if err != nil {
		recordPublish("failed")
		respondErr(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		recordPublish("created")
		status = http.StatusCreated
	} else {
		recordPublish("deduplicated")
	}
	c.JSON(status, gin.H{
		"agentId":   outcome.Record.ID,
		"versionId": outcome.Version.ID,
		"created":   outcome.Created,
	})
}

type grantRequest struct {
	Subject string `json:"subject" binding:"required"`
}

// GrantEntitlement handles POST /agents/:id/entitlements.
func (h *AgentHandler) GrantEntitlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("agent"))
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "subject is required"))
		return
	}

	e, err := h.entitlements.Grant(c.Request.Context(), principalFromCtx(c), id, req.Subject)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entitlement": e})
}

// RevokeEntitlement handles DELETE /agents/:id/entitlements/:subject.
func (h *AgentHandler) RevokeEntitlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("agent"))
		return
	}
	if err := h.entitlements.Revoke(c.Request.Context(), principalFromCtx(c), id, c.Param("subject")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEntitlements handles GET /agents/:id/entitlements.
func (h *AgentHandler) ListEntitlements(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondErr(c, model.NotFound("agent"))
		return
	}
	grants, err := h.entitlements.List(c.Request.Context(), principalFromCtx(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if grants == nil {
		grants = []*model.Entitlement{}
	}
	c.JSON(http.StatusOK, gin.H{"entitlements": grants, "count": len(grants)})
}

// Stats handles GET /stats — public registry-wide counters.
func (h *AgentHandler) Stats(c *gin.Context) {
	stats, err := h.discovery.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("registry stats", zap.Error(err))
		respondErr(c, err)
		return
	}

	resp := gin.H{
		"totalAgents":        stats.TotalAgents,
		"publicAgents":       stats.PublicAgents,
		"indexedAgents":      stats.IndexedAgents,
		"indexRepairBacklog": stats.RepairBacklog,
	}
	if h.peers != nil {
		if peers, err := h.peers.ListPeers(c.Request.Context(), false); err == nil {
			resp["peers"] = len(peers)
		}
	}
	c.JSON(http.StatusOK, resp)
}
