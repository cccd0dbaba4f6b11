//go:build unix

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alive reports whether pid names a live (non-zombie) process.
func alive(t *testing.T, pid int) bool {
	t.Helper()
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return false
	}
	if runtime.GOOS != "linux" {
		return true
	}
	// Reparented grandchildren may linger as zombies until init reaps them.
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return pid
}

func TestRun_NoOrphanAfterHang(t *testing.T) {
	r, _ := newTestRunner(t)
	inv := invocation("sleep 30")
	inv.HangLimit = 100 * time.Millisecond

	res, err := r.Run(context.Background(), inv)
	require.ErrorIs(t, err, ErrHung)
	require.NotZero(t, res.PID)
	assert.False(t, alive(t, res.PID), "shell %d still running after hang", res.PID)
}

func TestRun_NoOrphanAfterTimeout(t *testing.T) {
	r, _ := newTestRunner(t)
	inv := invocation("while true; do echo tick; sleep 0.02; done")
	inv.HangLimit = time.Second
	inv.TotalLimit = 150 * time.Millisecond

	res, err := r.Run(context.Background(), inv)
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, alive(t, res.PID), "shell %d still running after timeout", res.PID)
}

func TestRun_KillsWholeProcessGroup(t *testing.T) {
	r, _ := newTestRunner(t)
	pidFile := filepath.Join(r.Workspace, "child.pid")
	inv := invocation("sleep 30 & echo $! > child.pid; wait")
	inv.HangLimit = 150 * time.Millisecond

	_, err := r.Run(context.Background(), inv)
	require.ErrorIs(t, err, ErrHung)

	child := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return !alive(t, child) }, 2*time.Second, 20*time.Millisecond,
		"background child %d survived the hang", child)
}

type panicWriter struct{}

func (panicWriter) Write([]byte) (int, error) { panic("progress sink exploded") }

func TestRun_PanicWhilePollingKillsChild(t *testing.T) {
	r, _ := newTestRunner(t)
	r.Output = panicWriter{}
	pidFile := filepath.Join(r.Workspace, "shell.pid")
	inv := invocation("echo $$ > shell.pid; echo hi; sleep 30")

	assert.Panics(t, func() {
		_, _ = r.Run(context.Background(), inv)
	})

	shell := readPID(t, pidFile)
	assert.False(t, alive(t, shell), "shell %d still running after panic", shell)
}
