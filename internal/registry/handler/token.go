package handler

import (
	"net/http"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
)

// TokenHandler serves the built-in client-credentials token endpoint and
// the matching JWKS. Deployments with an external identity provider leave
// this unmounted.
type TokenHandler struct {
	issuer  *auth.Issuer
	limiter *Limiter
	logger  *zap.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(issuer *auth.Issuer, limiter *Limiter, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{issuer: issuer, limiter: limiter, logger: logger}
}

// Register mounts the token routes on the engine root.
func (h *TokenHandler) Register(r *gin.Engine) {
	r.POST("/oauth/token", h.limiter.Middleware(ClassWrite), h.Token)
	r.GET("/.well-known/jwks.json", h.limiter.Middleware(ClassPublicRead), h.JWKS)
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// Token handles POST /oauth/token. Only the client_credentials grant is
// supported; credentials come form-encoded or as JSON.
func (h *TokenHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		respondErr(c, model.E(model.CodeInvalidRequest, "malformed token request"))
		return
	}
	if req.GrantType != "client_credentials" {
		respondErr(c, model.E(model.CodeInvalidRequest, "only the client_credentials grant is supported"))
		return
	}

	token, ttl, err := h.issuer.ClientCredentials(req.ClientID, req.ClientSecret)
	if err != nil {
		h.logger.Warn("token request rejected", zap.String("client_id", req.ClientID))
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	})
}

// JWKS handles GET /.well-known/jwks.json — the issuer's verification key.
func (h *TokenHandler) JWKS(c *gin.Context) {
	key, err := jwk.FromRaw(h.issuer.PublicKey())
	if err != nil {
		h.logger.Error("building jwks", zap.Error(err))
		respondErr(c, model.E(model.CodeOverloaded, "jwks unavailable"))
		return
	}
	_ = key.Set(jwk.KeyIDKey, "agentdex-1")
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	_ = set.AddKey(key)
	c.JSON(http.StatusOK, set)
}
