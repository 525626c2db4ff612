package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditcontext "github.com/paksafinancial/taxengine/internal/auditcontext"
	obscontext "github.com/paksafinancial/taxengine/internal/observability/context"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
)

const (
	HeaderTenant    = "X-Tenant-ID"
	HeaderUser      = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

// RequestContext propagates the request id and acting user into the request
// context so downstream audit writes can attribute the change.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = obscontext.WithRequestID(ctx, requestID)

		if user := strings.TrimSpace(c.GetHeader(HeaderUser)); user != "" {
			ctx = auditcontext.WithUser(ctx, user)
			ctx = obscontext.WithActor(ctx, "user", user)
		}
		if ip := c.ClientIP(); ip != "" {
			ctx = auditcontext.WithIPAddress(ctx, ip)
		}
		if ua := strings.TrimSpace(c.Request.UserAgent()); ua != "" {
			ctx = auditcontext.WithUserAgent(ctx, ua)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantRequired resolves the company from the tenant header. Requests
// without a parseable tenant are rejected before any handler runs.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		companyID, err := snowflake.ParseString(raw)
		if err != nil || companyID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantctx.WithCompanyID(c.Request.Context(), companyID)
		ctx = obscontext.WithCompanyID(ctx, companyID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
