package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"sorter/internal/apperr"
	"sorter/internal/config"
	"sorter/internal/dispatcher"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	programs []string
	err      error
}

func (s *captureSender) Send(_ context.Context, prog string, _ time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.programs = append(s.programs, prog)
	return nil
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sortctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"create-test-order", "dispatch", "complete", "list", "reset", "test-move", "done-last"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"db", "operator", "format"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

type cliEnv struct {
	db     string
	sender *captureSender
	redis  *miniredis.Miniredis
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	progDir := filepath.Join(dir, "RobotScripts")
	require.NoError(t, os.MkdirAll(progDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(progDir, "roed_26.script"), []byte("def roed():\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(progDir, "blaa_26.script"), []byte("def blaa():\nend\n"), 0o644))
	t.Setenv("PROGRAM_DIR", progDir)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	return &cliEnv{db: filepath.Join(dir, "cli.db"), sender: &captureSender{}, redis: mr}
}

// run executes sortctl with --format json and decodes the envelope.
func (e *cliEnv) run(t *testing.T, args ...string) (response, error) {
	t.Helper()
	cmd := newRootCommand(func(config.AppConfig) dispatcher.Sender { return e.sender })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", e.db, "--format", "json"}, args...))
	err := cmd.Execute()

	var resp response
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	}
	return resp, err
}

func TestCreateTestOrderListDispatch(t *testing.T) {
	e := newCLIEnv(t)

	resp, err := e.run(t, "create-test-order")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = e.run(t, "list")
	require.NoError(t, err)
	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, rows, 2)

	resp, err = e.run(t, "dispatch")
	require.NoError(t, err)
	cycle := resp.Data.(map[string]any)
	assert.Equal(t, "roed_26.script", cycle["program"])
	require.Len(t, e.sender.programs, 1)
	assert.Contains(t, e.sender.programs[0], "roed()")

	job := cycle["job"].(map[string]any)
	orderID := job["order_id"].(float64)
	lineID := job["line_item_id"].(float64)

	resp, err = e.run(t, "complete", jsonInt(orderID), jsonInt(lineID))
	require.NoError(t, err)
	assert.Equal(t, "Done", resp.Data.(map[string]any)["status"])

	// the same job cannot be completed twice
	_, err = e.run(t, "complete", jsonInt(orderID), jsonInt(lineID))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDispatch_SendFailureExitsNonZero(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "create-test-order")
	require.NoError(t, err)

	e.sender.err = errors.Join(apperr.ErrTransport, errors.New("connection refused"))
	resp, err := e.run(t, "dispatch")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "connection refused")
}

func TestDispatch_EmptyQueue(t *testing.T) {
	e := newCLIEnv(t)
	resp, err := e.run(t, "dispatch")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Data)
}

func TestDoneLast(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "create-test-order")
	require.NoError(t, err)

	resp, err := e.run(t, "dispatch")
	require.NoError(t, err)
	job := resp.Data.(map[string]any)["job"].(map[string]any)

	resp, err = e.run(t, "done-last")
	require.NoError(t, err)
	res := resp.Data.(map[string]any)
	assert.Equal(t, "Done", res["status"])
	assert.Equal(t, job["line_item_id"], res["line_item_id"])

	// the claim is forgotten once completed
	resp, err = e.run(t, "done-last")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
}

func TestDoneLast_RedisDown(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "create-test-order")
	require.NoError(t, err)
	e.redis.Close()

	// dispatch does not depend on Redis
	_, err = e.run(t, "dispatch")
	require.NoError(t, err)
	require.Len(t, e.sender.programs, 1)

	_, err = e.run(t, "done-last")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReset(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "create-test-order")
	require.NoError(t, err)
	_, err = e.run(t, "dispatch")
	require.NoError(t, err)

	resp, err := e.run(t, "reset")
	require.NoError(t, err)
	res := resp.Data.(map[string]any)
	assert.EqualValues(t, 1, res["line_items"])
	assert.EqualValues(t, 1, res["orders"])
}

func TestTestMove(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "test-move")
	require.NoError(t, err)
	require.Len(t, e.sender.programs, 1)
	assert.Contains(t, e.sender.programs[0], "pc_test_move()")
}

func TestUsageErrors(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "complete", "x", "1")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run(t, "complete", "1", "1", "--outcome", "Queued2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run(t, "--operator", "nobody", "list")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func jsonInt(f float64) string {
	return strconv.FormatInt(int64(f), 10)
}
