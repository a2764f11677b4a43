package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	rediskey "sorter/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// OperatorHeader 标识发起请求的操作员。
const OperatorHeader = "X-Operator"

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间(ms)，ARGV[2]=窗口开始(ms)，ARGV[3]=窗口秒数，ARGV[4]=member，ARGV[5]=limit
// 返回：当前窗口内的请求数，超限返回 -1
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`

// RedisRateLimit 限制每个操作员（无 header 时按 IP）触发 dispatch 的频率。
// rdb 为 nil 时不限流。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}
		key := limitKey(c)

		now := time.Now()
		windowSec := int64(window.Seconds())
		if windowSec < 1 {
			windowSec = 1
		}
		nowMs := now.UnixMilli()
		windowStart := nowMs - window.Milliseconds()
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMs, windowStart, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many dispatch requests, slow down",
			})
			return
		}
		c.Next()
	}
}

func limitKey(c *gin.Context) string {
	if op := strings.TrimSpace(c.GetHeader(OperatorHeader)); op != "" {
		return rediskey.RateLimitKey("operator", op)
	}
	return rediskey.RateLimitKey("ip", c.ClientIP())
}
