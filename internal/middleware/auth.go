package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ShopIDKey 鉴权通过后写入 gin.Context 的店铺 ID。
const ShopIDKey = "shop_id"

// ActorKey 操作人（JWT sub），写审计用。
const ActorKey = "actor"

// AdminClaims 商家后台 token 的声明。
type AdminClaims struct {
	ShopID string `json:"shop_id"`
	jwt.RegisteredClaims
}

// IssueAdminToken 签发 HS256 token，供安装流程与运维脚本使用。
func IssueAdminToken(secret, shopID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		ShopID: shopID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminAuth 校验 Bearer JWT，要求携带 shop_id。
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid authorization header format"})
			return
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": msg})
			return
		}
		if claims.ShopID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "token missing shop_id"})
			return
		}

		c.Set(ShopIDKey, claims.ShopID)
		actor := claims.Subject
		if actor == "" {
			actor = "merchant"
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}
