// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/matt-FFFFFF/tsh/internal/builtin"
	"github.com/matt-FFFFFF/tsh/internal/config"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/matt-FFFFFF/tsh/internal/launcher"
	"github.com/matt-FFFFFF/tsh/internal/reconciler"
	"github.com/matt-FFFFFF/tsh/internal/signalbroker"
	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

type harness struct {
	table  *jobs.Table
	shell  *Shell
	out    *bytes.Buffer
	stdout string // What launched programs write when not redirected.
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	t.Cleanup(func() { goleak.VerifyNone(t) })

	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { _ = devnull.Close() })

	stdoutPath := filepath.Join(t.TempDir(), "stdout")
	stdout, err := os.Create(stdoutPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stdout.Close() })

	h := &harness{
		table:  jobs.New(cfg.MaxJobs),
		out:    &bytes.Buffer{},
		stdout: stdoutPath,
	}
	h.shell = New(cfg, h.table, h.out, WithLauncherOptions(launcher.WithStdio(devnull, stdout, stdout)))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := signalbroker.New(ctx, syscall.SIGCHLD)
	done := make(chan error, 1)

	go func() {
		done <- reconciler.New(h.table, h.out).Run(ctx, sigCh)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		signalbroker.Stop(sigCh)
	})

	return h
}

func scripted() config.Config {
	cfg := config.Default()
	cfg.EmitPrompt = false

	return cfg
}

func (h *harness) programOutput(t *testing.T) string {
	t.Helper()

	b, err := os.ReadFile(h.stdout)
	require.NoError(t, err)

	return string(b)
}

func (h *harness) killAll(t *testing.T) {
	t.Helper()

	for _, j := range h.table.Jobs() {
		_ = unix.Kill(-j.PID, unix.SIGKILL)
	}

	require.Eventually(t, func() bool {
		return len(h.table.Jobs()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{line: "", want: []string{}},
		{line: "   ", want: []string{}},
		{line: "ls -l", want: []string{"ls", "-l"}},
		{line: "echo 'a b'  c", want: []string{"echo", "a b", "c"}},
		{line: "echo 'x | y' | cat", want: []string{"echo", "x | y", "|", "cat"}},
		{line: "sleep 5 &", want: []string{"sleep", "5", "&"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Tokenize(tt.line)
			require.NoError(t, err)

			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Tokenize("echo 'unterminated")
	assert.Error(t, err)
}

func TestRun_Pipeline(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Run(context.Background(), strings.NewReader("echo hi | cat\n")))

	assert.Equal(t, "hi\n", h.programOutput(t))
	assert.Empty(t, h.out.String())
	assert.Empty(t, h.table.Jobs())
}

func TestRun_LastLineWithoutNewline(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Run(context.Background(), strings.NewReader("echo one\necho two")))

	assert.Equal(t, "one\ntwo\n", h.programOutput(t))
}

func TestRun_Prompt(t *testing.T) {
	cfg := config.Default()
	cfg.Prompt = "$ "
	h := newHarness(t, cfg)

	require.NoError(t, h.shell.Run(context.Background(), strings.NewReader("jobs\n\n")))

	assert.Equal(t, "$ $ $ ", h.out.String(), "one prompt per line and one before end of input")
}

func TestRun_BackgroundThenJobs(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Run(context.Background(), strings.NewReader("sleep 30 &\njobs\n")))

	live := h.table.Jobs()
	require.Len(t, live, 1)

	pid := live[0].PID
	want := fmt.Sprintf("[1] (%d) sleep 30 &\n[1] (%d) Running sleep 30 &\n", pid, pid)
	assert.Equal(t, want, h.out.String())

	h.killAll(t)
	assert.Contains(t, h.out.String(), fmt.Sprintf("Job [1] (%d) terminated by signal 9\n", pid))
}

func TestRun_StopAndResume(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Eval(context.Background(), "sleep 30 &"))

	live := h.table.Jobs()
	require.Len(t, live, 1)

	pid := live[0].PID

	require.NoError(t, unix.Kill(-pid, unix.SIGTSTP))
	require.Eventually(t, func() bool {
		j, ok := h.table.FindByPID(pid)
		return ok && j.State == jobs.Stopped
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, h.out.String(), fmt.Sprintf("Job [1] (%d) stopped by signal 20\n", pid))

	h.out.Reset()
	require.NoError(t, h.shell.Eval(context.Background(), "bg %1"))
	assert.Equal(t, fmt.Sprintf("[1] (%d) sleep 30 &\n", pid), h.out.String())

	j, ok := h.table.FindByPID(pid)
	require.True(t, ok)
	assert.Equal(t, jobs.Background, j.State)

	h.killAll(t)
}

func TestRun_FgWaitsUntilJobEnds(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Eval(context.Background(), "sleep 30 &"))
	pid := h.table.Jobs()[0].PID

	done := make(chan error, 1)

	go func() {
		done <- h.shell.Eval(context.Background(), fmt.Sprintf("fg %d", pid))
	}()

	require.Eventually(t, func() bool {
		return h.table.ForegroundPID() == pid
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-done:
		t.Fatal("fg returned while the job is still in the foreground")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, unix.Kill(-pid, unix.SIGKILL))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fg did not return after the job was killed")
	}

	assert.Empty(t, h.table.Jobs())
}

func TestRun_UserErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "unknown pid", line: "bg 999999", want: "999999: process was not encountered\n"},
		{name: "unknown job", line: "fg %2", want: "%2: no such job\n"},
		{name: "missing argument", line: "fg", want: "fg command requires PID or %jobid argument\n"},
		{name: "not found", line: "no-such-program-tsh -x", want: "no-such-program-tsh: Command not found\n"},
		{name: "empty stage", line: "echo a | | cat", want: "stage 2: missing command\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, scripted())

			require.NoError(t, h.shell.Eval(context.Background(), tt.line))
			assert.Equal(t, tt.want, h.out.String())
			assert.Empty(t, h.table.Jobs())
		})
	}
}

func TestRun_MissingInputFile(t *testing.T) {
	h := newHarness(t, scripted())

	missing := filepath.Join(t.TempDir(), "nonexistent_file")
	require.NoError(t, h.shell.Eval(context.Background(), "cat < "+missing))

	assert.Contains(t, h.out.String(), "open error")
	assert.Contains(t, h.out.String(), missing)
	assert.Empty(t, h.programOutput(t), "nothing was executed")
	assert.Empty(t, h.table.Jobs())
}

func TestRun_UnterminatedQuote(t *testing.T) {
	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Eval(context.Background(), "echo 'oops"))
	assert.True(t, strings.HasPrefix(h.out.String(), "echo 'oops: "))
}

func TestRun_ForkFailureIsReported(t *testing.T) {
	stubs := gostub.Stub(&launcher.ForkExec, func(string, []string, *syscall.ProcAttr) (int, error) {
		return 0, syscall.EAGAIN
	})
	defer stubs.Reset()

	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Eval(context.Background(), "echo hi"))
	assert.Equal(t, "fork error: "+syscall.EAGAIN.Error()+"\n", h.out.String())
}

func TestRun_Quit(t *testing.T) {
	code := -1
	stubs := gostub.Stub(&builtin.Exit, func(c int) { code = c })
	defer stubs.Reset()

	h := newHarness(t, scripted())

	require.NoError(t, h.shell.Run(context.Background(), strings.NewReader("quit\n")))
	assert.Equal(t, 0, code)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, scripted())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.shell.Run(ctx, strings.NewReader("echo never\n"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.programOutput(t))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestRun_ReadError(t *testing.T) {
	h := newHarness(t, scripted())

	err := h.shell.Run(context.Background(), failingReader{})
	require.ErrorIs(t, err, ErrReadInput)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
