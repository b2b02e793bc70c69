package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/agentdex/agentdex/internal/cache"
	"github.com/agentdex/agentdex/internal/federation"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// indexSource pages the public index rows.
// *repository.AgentRepository satisfies this.
type indexSource interface {
	PublicIndex(ctx context.Context, cursor *model.Cursor, limit int) ([]model.IndexRow, error)
}

// WellKnownHandler serves the discovery well-knowns: the paginated public
// index peers sync from, and the registry's own agent card.
type WellKnownHandler struct {
	source  indexSource
	baseURL string
	version string
	cache   *cache.Cache
	ttl     CacheTTLs
	limiter *Limiter
	logger  *zap.Logger
}

// NewWellKnownHandler creates a WellKnownHandler. baseURL is the externally
// reachable registry root advertised in card URLs.
func NewWellKnownHandler(source indexSource, baseURL, version string, store *cache.Cache, ttl CacheTTLs, limiter *Limiter, logger *zap.Logger) *WellKnownHandler {
	return &WellKnownHandler{
		source:  source,
		baseURL: baseURL,
		version: version,
		cache:   store,
		ttl:     ttl,
		limiter: limiter,
		logger:  logger,
	}
}

// Register mounts the well-known routes on the engine root.
func (h *WellKnownHandler) Register(r *gin.Engine) {
	wk := r.Group("/.well-known", h.limiter.Middleware(ClassPublicRead))
	wk.GET("/agents/index.json", cached(h.cache, "wellknown", h.ttl.WellKnown, indexParams, h.ServeIndex))
	wk.GET("/agent.json", cached(h.cache, "wellknown", h.ttl.WellKnown, indexParams, h.ServeRegistryCard))
}

func indexParams(c *gin.Context) string {
	return c.Request.URL.Path + "?" + c.Query("cursor") + "|" + c.Query("limit")
}

// ServeIndex handles GET /.well-known/agents/index.json — the paginated
// public index. The page shape is the same one the federation client
// consumes from peers.
func (h *WellKnownHandler) ServeIndex(c *gin.Context) {
	cursor, err := model.DecodeCursor(c.Query("cursor"))
	if err != nil {
		respondErr(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	limit = model.ClampLimit(limit)

	rows, err := h.source.PublicIndex(c.Request.Context(), cursor, limit)
	if err != nil {
		h.logger.Error("well-known index", zap.Error(err))
		respondErr(c, err)
		return
	}

	page := federation.IndexPage{Items: make([]federation.IndexEntry, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, federation.IndexEntry{
			Name:        row.Name,
			Publisher:   row.PublisherName,
			Version:     row.Version,
			ContentHash: row.ContentHash,
			CardURL:     h.baseURL + "/agents/" + row.ID.String() + "/card",
			UpdatedAt:   row.UpdatedAt,
		})
	}
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = model.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}
	c.JSON(http.StatusOK, page)
}

// ServeRegistryCard handles GET /.well-known/agent.json — the registry
// described as an agent, so A2A clients can discover its own surface.
func (h *WellKnownHandler) ServeRegistryCard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "agentdex",
		"description": "Agent registry and discovery service: publish, search, and federate A2A agent cards.",
		"url":         h.baseURL,
		"version":     h.version,
		"capabilities": gin.H{
			"streaming":              false,
			"pushNotifications":      false,
			"stateTransitionHistory": false,
		},
		"securitySchemes": []gin.H{
			{"type": "oauth2", "flow": "client_credentials", "tokenUrl": h.baseURL + "/oauth/token"},
		},
		"skills": []gin.H{
			{
				"id":          "discover",
				"name":        "Agent discovery",
				"description": "List and search registered agents by text, tags, capabilities, and transport.",
				"tags":        []string{"discovery", "search"},
			},
			{
				"id":          "publish",
				"name":        "Agent publication",
				"description": "Publish agent cards by value or by URL.",
				"tags":        []string{"publish", "registry"},
			},
			{
				"id":          "federate",
				"name":        "Registry federation",
				"description": "Mirror public agents from peer registries over the well-known index.",
				"tags":        []string{"federation"},
			},
		},
		"interface": gin.H{
			"preferredTransport": "http",
			"defaultInputModes":  []string{"application/json"},
			"defaultOutputModes": []string{"application/json"},
		},
		"documentationUrl": h.baseURL + "/docs",
	})
}
