package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/procurement_backend/utils"
)

// Headers set by the authorization gateway in front of this service.
const (
	HeaderUserId             = "X-User-Id"
	HeaderUserName           = "X-User-Name"
	HeaderGrantedTransitions = "X-Granted-Transitions"
	HeaderCorrelationId      = "X-Correlation-Id"
)

// CorrelationMiddleware attaches a correlation id to the request context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header(HeaderCorrelationId, cid)
		c.Next()
	}
}

// SessionMiddleware trusts the identity and capability headers resolved upstream.
// Requests without a user id are rejected; an empty capability list is allowed and simply grants nothing.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawId := strings.TrimSpace(c.GetHeader(HeaderUserId))
		userId, err := strconv.Atoi(rawId)
		if rawId == "" || err != nil || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), userId)
		ctx = utils.SetUserNameInContext(ctx, strings.TrimSpace(c.GetHeader(HeaderUserName)))
		ctx = utils.SetGrantedInContext(ctx, c.GetHeader(HeaderGrantedTransitions))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
