package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sorter/internal/apperr"
	"sorter/internal/config"
	"sorter/internal/dispatcher"
	"sorter/internal/middleware"
	"sorter/internal/model"
	"sorter/internal/notify"
	"sorter/internal/program"
	"sorter/internal/queue"
	"sorter/internal/store"
	rediskey "sorter/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ClaimTracker remembers each operator's last dispatched job.
type ClaimTracker interface {
	Remember(ctx context.Context, c rediskey.LastClaim) error
	Last(ctx context.Context, operator string) (rediskey.LastClaim, bool, error)
	Forget(ctx context.Context, operator string) error
}

// Deps 汇总路由依赖。RDB、Claims、Events 可以为 nil；Claims 为 nil 时退化为进程内记录。
type Deps struct {
	DB         *gorm.DB
	Queue      *queue.Queue
	Dispatcher *dispatcher.Dispatcher
	Robot      dispatcher.Sender
	Claims     ClaimTracker
	Events     dispatcher.Publisher
	RDB        *rd.Client
	Cfg        config.AppConfig
	Log        *slog.Logger
}

type handlers struct {
	Deps
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Claims == nil {
		d.Claims = newLocalClaims()
	}
	h := &handlers{Deps: d}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api", h.operator)
	// orders
	api.POST("/orders", h.createOrder)
	api.POST("/orders/test", h.createTestOrder)
	// jobs
	api.GET("/jobs", h.listJobs)
	api.POST("/jobs/dispatch", middleware.RedisRateLimit(d.RDB, d.Cfg.DispatchRateLimit, d.Cfg.DispatchRateWindow), h.dispatch)
	api.POST("/jobs/last/done", h.completeLast)
	api.POST("/jobs/:line_item_id/complete", h.complete)
	api.POST("/jobs/reset", h.reset)
	// robot
	api.POST("/robot/test-move", h.testMove)
}

const (
	ctxOperator = "operator"
	ctxUserID   = "user_id"
)

// operator 解析 X-Operator（缺省为管理员）并查出用户 id，后续写审计日志用。
func (h *handlers) operator(c *gin.Context) {
	name := strings.TrimSpace(c.GetHeader(middleware.OperatorHeader))
	if name == "" {
		name = h.Cfg.AdminUsername
	}
	id, err := store.FindUserID(h.DB.WithContext(c.Request.Context()), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "unknown operator " + name})
			return
		}
		abortWithError(c, err)
		return
	}
	c.Set(ctxOperator, name)
	c.Set(ctxUserID, id)
	c.Next()
}

func userID(c *gin.Context) *int64 {
	id := c.GetInt64(ctxUserID)
	return &id
}

// createOrder 创建订单，所有行项目初始为 Queued。
func (h *handlers) createOrder(c *gin.Context) {
	var req struct {
		Lines []queue.LineInput `json:"lines" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	uid := userID(c)
	orderID, err := h.Queue.CreateOrder(c.Request.Context(), *uid, req.Lines)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.publish(c, notify.NewJobEvent(notify.ActionOrderCreated, orderID, 0, uid, ""))
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"order_id": orderID}})
}

// createTestOrder 有活动订单时不重复创建。
func (h *handlers) createTestOrder(c *gin.Context) {
	uid := userID(c)
	orderID, created, err := h.Queue.CreateTestOrder(c.Request.Context(), *uid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if created {
		h.publish(c, notify.NewJobEvent(notify.ActionOrderCreated, orderID, 0, uid, "test order"))
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"order_id": orderID, "created": created}})
}

func (h *handlers) listJobs(c *gin.Context) {
	limit := h.Cfg.ListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	jobs, err := h.Queue.ListActive(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": jobs})
}

// dispatch 领取下一个任务并发送到机械臂。
// 发送成功后任务保持 Running，直到操作员确认完成。
func (h *handlers) dispatch(c *gin.Context) {
	ctx := c.Request.Context()
	operator := c.GetString(ctxOperator)

	cycle, err := h.Dispatcher.RunCycle(ctx, userID(c))
	if err != nil {
		status, code := httpStatus(err)
		c.JSON(status, gin.H{"code": code, "msg": err.Error(), "data": cycle})
		return
	}
	if cycle == nil {
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "queue empty", "data": nil})
		return
	}

	err = h.Claims.Remember(ctx, rediskey.LastClaim{
		Operator:   operator,
		OrderID:    cycle.Job.OrderID,
		LineItemID: cycle.Job.LineItemID,
		Program:    cycle.Program,
		ClaimedAt:  time.Now(),
	})
	if err != nil {
		h.Log.Warn("remember last claim", slog.String("operator", operator), slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": cycle})
}

// completeLast 把操作员最近领取的任务标记为 Done。
func (h *handlers) completeLast(c *gin.Context) {
	ctx := c.Request.Context()
	operator := c.GetString(ctxOperator)

	last, found, err := h.Claims.Last(ctx, operator)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "no job claimed by " + operator})
		return
	}
	h.finish(c, operator, last.OrderID, last.LineItemID, model.StatusDone, "")
}

func (h *handlers) complete(c *gin.Context) {
	lineID, err := strconv.ParseInt(c.Param("line_item_id"), 10, 64)
	if err != nil || lineID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid line_item_id"})
		return
	}
	var req struct {
		OrderID int64  `json:"order_id" binding:"required,min=1"`
		Outcome string `json:"outcome" binding:"required"`
		Detail  string `json:"detail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	outcome, err := model.ParseStatus(req.Outcome)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	h.finish(c, c.GetString(ctxOperator), req.OrderID, lineID, outcome, req.Detail)
}

func (h *handlers) finish(c *gin.Context, operator string, orderID, lineID int64, outcome model.Status, detail string) {
	ctx := c.Request.Context()
	uid := userID(c)
	orderStatus, err := h.Queue.Complete(ctx, queue.Completion{
		OrderID:    orderID,
		LineItemID: lineID,
		Outcome:    outcome,
		UserID:     uid,
		Detail:     detail,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	if last, found, err := h.Claims.Last(ctx, operator); err == nil && found && last.LineItemID == lineID {
		if err := h.Claims.Forget(ctx, operator); err != nil {
			h.Log.Warn("forget last claim", slog.String("operator", operator), slog.String("error", err.Error()))
		}
	}

	action := notify.ActionDone
	if outcome == model.StatusFailed {
		action = notify.ActionFailed
	}
	h.publish(c, notify.NewJobEvent(action, orderID, lineID, uid, detail))

	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
		"order_id":     orderID,
		"line_item_id": lineID,
		"status":       outcome,
		"order_status": orderStatus,
	}})
}

// reset 把卡在 Running 的任务放回队列（控制器重启后使用）。
func (h *handlers) reset(c *gin.Context) {
	uid := userID(c)
	res, err := h.Queue.RecoverStuck(c.Request.Context(), uid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.publish(c, notify.NewJobEvent(notify.ActionReset, 0, 0, uid, ""))
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
		"line_items": res.LineItems,
		"orders":     res.Orders,
	}})
}

// testMove 发送内置测试程序，不经过队列。
func (h *handlers) testMove(c *gin.Context) {
	start := time.Now()
	err := h.Robot.Send(c.Request.Context(), program.Prepare(program.TestMoveName, program.TestMove), h.Cfg.DispatchTimeout)
	if err != nil {
		h.Log.Error("test move failed", slog.Duration("elapsed", time.Since(start)), slog.String("error", err.Error()))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "test move sent"})
}

func (h *handlers) publish(c *gin.Context, ev notify.JobEvent) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Publish(c.Request.Context(), ev); err != nil {
		h.Log.Warn("publish job event", slog.String("action", ev.Action), slog.String("error", err.Error()))
	}
}

// httpStatus 把错误类别映射为 HTTP 状态码。
func httpStatus(err error) (int, int) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, 400
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, 404
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, 409
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout, 504
	case errors.Is(err, apperr.ErrTransport):
		return http.StatusBadGateway, 502
	default:
		return http.StatusInternalServerError, 500
	}
}

func abortWithError(c *gin.Context, err error) {
	status, code := httpStatus(err)
	c.AbortWithStatusJSON(status, gin.H{"code": code, "msg": err.Error()})
}
