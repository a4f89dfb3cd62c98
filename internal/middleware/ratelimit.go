package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	rediskey "print_upload/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// slidingWindow 滑动窗口计数（ZSET，毫秒时间戳为 score）。
// KEYS[1] 限流键；ARGV: now_ms, window_ms, limit, member
// 返回 {allowed(0/1), 窗口内计数, 最早一条距离过期的毫秒数}
var slidingWindow = rd.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local used = redis.call('ZCARD', KEYS[1])
if used >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {0, used, wait}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, used + 1, 0}
`)

// ShopHeader 店面请求携带的店铺标识。
const ShopHeader = "X-Shop-Id"

// RedisRateLimit 店面上传接口限流：同一店铺下按客户端 IP 计数。
// Redis 不可用时放行，限流不能挡住客户提交。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	windowMs := window.Milliseconds()
	return func(c *gin.Context) {
		key := rateLimitKey(c)
		now := time.Now().UnixMilli()

		vals, err := slidingWindow.Run(c.Request.Context(), rdb, []string{key},
			now, windowMs, limit, uuid.NewString()).Int64Slice()
		if err != nil || len(vals) != 3 {
			c.Next()
			return
		}

		allowed, used, waitMs := vals[0] == 1, vals[1], vals[2]
		remaining := int64(limit) - used
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			retry := (waitMs + 999) / 1000
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retry, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "上传请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	shopID := strings.TrimSpace(c.GetHeader(ShopHeader))
	if shopID == "" {
		return rediskey.RateLimitKey("ip", c.ClientIP())
	}
	return rediskey.RateLimitKey("shop", shopID+":"+c.ClientIP())
}
