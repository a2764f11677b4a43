package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sorter/internal/apperr"
	"sorter/internal/config"
	"sorter/internal/dispatcher"
	"sorter/internal/model"
	"sorter/internal/program"
	"sorter/internal/queue"
	"sorter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, prog string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, prog)
	return nil
}

type env struct {
	r      *gin.Engine
	db     *gorm.DB
	sender *fakeSender
}

func newEnv(t *testing.T) env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })
	_, err = store.EnsureAdmin(db, "admin", "pw")
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	for _, name := range []string{"roed_26.script", "blaa_26.script"} {
		require.NoError(t, afero.WriteFile(fsys, "/"+name, []byte("def sort_it():\n  textmsg(\"x\")\nend\n"), 0o644))
	}

	sender := &fakeSender{}
	q := queue.New(db)
	cfg := config.AppConfig{
		AdminUsername:   "admin",
		ListLimit:       50,
		DispatchTimeout: time.Second,
	}

	r := gin.New()
	Setup(r, Deps{
		DB:         db,
		Queue:      q,
		Dispatcher: dispatcher.New(q, sender, program.NewStoreFs(fsys), cfg.DispatchTimeout),
		Robot:      sender,
		Cfg:        cfg,
	})
	return env{r: r, db: db, sender: sender}
}

type response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e env) do(t *testing.T, method, path string, body any, operator string) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if operator != "" {
		req.Header.Set("X-Operator", operator)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)

	var out response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (e env) lineStatus(t *testing.T, id int64) model.Status {
	t.Helper()
	var li model.LineItem
	require.NoError(t, e.db.First(&li, id).Error)
	return li.Status
}

func TestPing(t *testing.T) {
	e := newEnv(t)
	code, out := e.do(t, http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", out.Msg)
}

func TestUnknownOperator(t *testing.T) {
	e := newEnv(t)
	code, out := e.do(t, http.MethodGet, "/api/jobs", nil, "mallory")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 401, out.Code)
}

func TestCreateTestOrder_Once(t *testing.T) {
	e := newEnv(t)

	code, out := e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	require.Equal(t, http.StatusOK, code)
	var first struct {
		OrderID int64 `json:"order_id"`
		Created bool  `json:"created"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &first))
	assert.True(t, first.Created)
	assert.Positive(t, first.OrderID)

	_, out = e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	var second struct {
		Created bool `json:"created"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &second))
	assert.False(t, second.Created)
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newEnv(t)

	code, _ := e.do(t, http.MethodPost, "/api/orders", gin.H{"lines": []gin.H{}}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/orders", gin.H{"lines": []gin.H{
		{"item_class": "RED", "target_bin": "A", "quantity": 0},
	}}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := e.do(t, http.MethodPost, "/api/orders", gin.H{"lines": []gin.H{
		{"item_class": "RED", "target_bin": "A", "quantity": 2, "priority": 1},
	}}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), "order_id")
}

func TestDispatchThenCompleteLast(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")

	code, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	require.Equal(t, http.StatusOK, code, out.Msg)
	var cycle dispatcher.Cycle
	require.NoError(t, json.Unmarshal(out.Data, &cycle))
	assert.NotEmpty(t, cycle.ID)
	assert.Equal(t, "RED", cycle.Job.ItemClass)
	assert.Equal(t, "roed_26.script", cycle.Program)
	assert.Equal(t, model.StatusRunning, e.lineStatus(t, cycle.Job.LineItemID))

	require.Len(t, e.sender.sent, 1)
	assert.Contains(t, e.sender.sent[0], `popup("Starting roed_26.script"`)
	assert.Contains(t, e.sender.sent[0], "\nsort_it()\n")

	code, out = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "")
	require.Equal(t, http.StatusOK, code, out.Msg)
	var done struct {
		Status      model.Status `json:"status"`
		OrderStatus model.Status `json:"order_status"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &done))
	assert.Equal(t, model.StatusDone, done.Status)
	assert.Equal(t, model.StatusRunning, done.OrderStatus)

	// forgotten after completion
	code, _ = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDispatch_EmptyQueue(t *testing.T) {
	e := newEnv(t)
	code, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "queue empty", out.Msg)
	assert.Empty(t, e.sender.sent)
}

func TestDispatch_TimeoutFailsJob(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	e.sender.err = fmt.Errorf("robot: %w", apperr.ErrTimeout)

	code, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, 504, out.Code)

	var cycle dispatcher.Cycle
	require.NoError(t, json.Unmarshal(out.Data, &cycle))
	assert.Equal(t, model.StatusFailed, e.lineStatus(t, cycle.Job.LineItemID))

	// a failed dispatch is not remembered as the operator's last job
	code, _ = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestComplete_Errors(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")

	var jobs []queue.Job
	_, out := e.do(t, http.MethodGet, "/api/jobs", nil, "")
	require.NoError(t, json.Unmarshal(out.Data, &jobs))
	require.Len(t, jobs, 2)
	j := jobs[0]

	code, _ := e.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/complete", j.LineItemID),
		gin.H{"order_id": j.OrderID, "outcome": "Finished"}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	// never claimed
	code, out = e.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/complete", j.LineItemID),
		gin.H{"order_id": j.OrderID, "outcome": "Done"}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, 409, out.Code)

	code, _ = e.do(t, http.MethodPost, "/api/jobs/abc/complete", gin.H{"order_id": 1, "outcome": "Done"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestComplete_FailedFailsOrder(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	_, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	var cycle dispatcher.Cycle
	require.NoError(t, json.Unmarshal(out.Data, &cycle))

	code, out := e.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/complete", cycle.Job.LineItemID),
		gin.H{"order_id": cycle.Job.OrderID, "outcome": "Failed", "detail": "jammed"}, "")
	require.Equal(t, http.StatusOK, code, out.Msg)
	assert.Contains(t, string(out.Data), `"order_status":"Failed"`)

	// a failed order has no claimable jobs left
	code, out = e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "queue empty", out.Msg)
}

func TestListJobs_Limit(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")

	code, _ := e.do(t, http.MethodGet, "/api/jobs?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)

	var jobs []queue.Job
	code, out := e.do(t, http.MethodGet, "/api/jobs?limit=1", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(out.Data, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "RED", jobs[0].ItemClass)
}

func TestReset(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	_, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	var cycle dispatcher.Cycle
	require.NoError(t, json.Unmarshal(out.Data, &cycle))

	code, out := e.do(t, http.MethodPost, "/api/jobs/reset", nil, "")
	require.Equal(t, http.StatusOK, code)
	var res struct {
		LineItems int64 `json:"line_items"`
		Orders    int64 `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &res))
	assert.Equal(t, int64(1), res.LineItems)
	assert.Equal(t, int64(1), res.Orders)
	assert.Equal(t, model.StatusQueued, e.lineStatus(t, cycle.Job.LineItemID))
}

func TestTestMove(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodPost, "/api/robot/test-move", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, e.sender.sent, 1)
	assert.Contains(t, e.sender.sent[0], "pc_test_move()")

	e.sender.err = fmt.Errorf("robot: %w", apperr.ErrTransport)
	code, out := e.do(t, http.MethodPost, "/api/robot/test-move", nil, "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, 502, out.Code)
}

func TestCompleteLast_PerOperator(t *testing.T) {
	e := newEnv(t)
	_, err := store.EnsureAdmin(e.db, "bob", "pw")
	require.NoError(t, err)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")

	code, _ := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "admin")
	require.Equal(t, http.StatusOK, code)

	// bob claimed nothing
	code, _ = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "bob")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "admin")
	assert.Equal(t, http.StatusOK, code)
}

func TestComplete_ForgetsLastClaim(t *testing.T) {
	e := newEnv(t)
	_, _ = e.do(t, http.MethodPost, "/api/orders/test", nil, "")
	_, out := e.do(t, http.MethodPost, "/api/jobs/dispatch", nil, "")
	var cycle dispatcher.Cycle
	require.NoError(t, json.Unmarshal(out.Data, &cycle))

	code, _ := e.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/complete", cycle.Job.LineItemID),
		gin.H{"order_id": cycle.Job.OrderID, "outcome": "Done"}, "")
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodPost, "/api/jobs/last/done", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}
