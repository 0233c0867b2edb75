package jwt

import (
	"strings"

	"github.com/gin-gonic/gin"

	"LeadPilot/pkg/back"
	"LeadPilot/pkg/util/myjwt"
	"LeadPilot/pkg/xerr"
)

const claimsKey = "jwt_claims"

func Auth(signer *myjwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := signer.ParseToken(tokenString)
		if err != nil {
			back.Error(c, xerr.Unauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set("tenant_id", claims.TenantID)
		c.Next()
	}
}

// Claims 未经过 Auth 中间件时返回 nil
func Claims(c *gin.Context) *myjwt.CustomClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*myjwt.CustomClaims)
	return claims
}

// RequireChatbot 校验令牌是否允许访问该 chatbot，不允许时写入 403 并返回 false
func RequireChatbot(c *gin.Context, chatbotID string) bool {
	if Claims(c).CanAccess(chatbotID) {
		return true
	}
	back.Error(c, xerr.Forbidden, "chatbot not accessible")
	return false
}
