package program

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var defLine = regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_]\w*)\s*\(`)

// EnsureSelfInvoking appends a call to the first defined function when the
// program defines one and never calls it on a line of its own. Programs
// without a def are returned unchanged.
func EnsureSelfInvoking(src string) string {
	m := defLine.FindStringSubmatch(src)
	if m == nil {
		return src
	}
	fn := m[1]
	call := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(fn) + `\s*\(\s*\)\s*$`)
	if call.MatchString(src) {
		return src
	}
	return strings.TrimRightFunc(src, unicode.IsSpace) + "\n\n" + fn + "()\n"
}

// Announce prepends a pendant popup naming the program, so an operator at
// the robot can see which program started.
func Announce(name, src string) string {
	return fmt.Sprintf("popup(\"Starting %s\", title=\"PC\", warning=False)\n", name) + src
}

// Prepare applies EnsureSelfInvoking and then Announce.
func Prepare(name, src string) string {
	return Announce(name, EnsureSelfInvoking(src))
}

// TestMoveName labels TestMove in logs and audit entries.
const TestMoveName = "INLINE_TEST_MOVE_DEF"

// TestMove lifts the tool 5 mm along z. It exercises the whole dispatch
// path without touching the queue.
const TestMove = `def pc_test_move():
  textmsg("PC def running - about to move")
  sleep(0.2)
  p0 = get_actual_tcp_pose()
  p1 = pose_trans(p0, p[0,0,0.005,0,0,0])
  movel(p1, a=0.2, v=0.02)
  textmsg("PC def done")
end

pc_test_move()
`
