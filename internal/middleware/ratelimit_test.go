package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisRateLimit_NilClientPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", RedisRateLimit(nil, 1, time.Second), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestLimitKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/x", nil)
	c.Request.Header.Set(OperatorHeader, " alice ")
	assert.Equal(t, "sorter:rate_limit:dispatch:operator:alice", limitKey(c))

	c.Request = httptest.NewRequest(http.MethodPost, "/x", nil)
	c.Request.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "sorter:rate_limit:dispatch:ip:10.1.2.3", limitKey(c))
}

func limitedEngine(t *testing.T, limit int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.POST("/x", RedisRateLimit(rdb, limit, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, mr
}

func post(r *gin.Engine, operator string) int {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	if operator != "" {
		req.Header.Set(OperatorHeader, operator)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRedisRateLimit_RejectsOverLimit(t *testing.T) {
	r, mr := limitedEngine(t, 2)

	var codes []int
	for i := 0; i < 4; i++ {
		codes = append(codes, post(r, "alice"))
	}
	assert.Equal(t, []int{204, 204, 429, 429}, codes)
	assert.True(t, mr.Exists("sorter:rate_limit:dispatch:operator:alice"))

	// another operator has its own window
	assert.Equal(t, http.StatusNoContent, post(r, "bob"))
}

func TestRedisRateLimit_FailsOpenWhenRedisErrors(t *testing.T) {
	r, mr := limitedEngine(t, 1)
	mr.SetError("ERR injected failure")

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, post(r, "alice"))
	}
}
