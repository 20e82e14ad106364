// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package launcher starts the processes of a pipeline, connects them with pipes and
// records the pipeline as a job before any of its children can be reaped.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/matt-FFFFFF/tsh/internal/pipeline"
)

var (
	// ErrCreatePipe is returned when the operating system pipe could not be created.
	ErrCreatePipe = errors.New("pipe error")
	// ErrStartProcess is returned when the operating system refused to create a process.
	ErrStartProcess = errors.New("fork error")
	// ErrNothingStarted is returned when no stage of the pipeline could be started.
	ErrNothingStarted = errors.New("no process started")
)

// LookPath resolves a program name to an executable path.
var LookPath = exec.LookPath

// ForkExec creates a child process running path.
var ForkExec = syscall.ForkExec

// Launcher starts pipelines on behalf of the shell.
type Launcher struct {
	table  *jobs.Table
	out    io.Writer // Status lines and per-stage errors.
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	env    []string
}

// Option configures a Launcher.
type Option func(l *Launcher)

// WithStdio sets the files the first and last stages inherit when not redirected,
// and the stderr of every stage.
func WithStdio(stdin, stdout, stderr *os.File) Option {
	return func(l *Launcher) {
		l.stdin, l.stdout, l.stderr = stdin, stdout, stderr
	}
}

// WithEnv sets the environment of launched processes.
func WithEnv(env []string) Option {
	return func(l *Launcher) {
		l.env = env
	}
}

// New creates a Launcher that records jobs in table and reports to out.
func New(table *jobs.Table, out io.Writer, opts ...Option) *Launcher {
	l := &Launcher{
		table:  table,
		out:    out,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		env:    os.Environ(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

type pipeEnds struct {
	r, w *os.File
}

// Launch runs every stage of p. The first stage that starts leads a new process group
// that the remaining stages join, and is registered as the job for cmdline.
// A foreground pipeline is waited for; a background one is acknowledged with
// "[jobid] (pid) cmdline". Launch always closes p.
func (l *Launcher) Launch(ctx context.Context, cmdline string, p *pipeline.Pipeline) error {
	logger := ctxlog.Logger(ctx).With("cmdline", cmdline)

	pipes, err := openPipes(p.Pipes())
	if err != nil {
		return errors.Join(err, p.Close())
	}

	state := jobs.Foreground
	if p.Background {
		state = jobs.Background
	}

	var (
		leader   int
		tracked  bool
		started  []int
		fatalErr error
	)

	// The table stays locked until the whole pipeline is recorded, so a child that exits
	// straight away is only reaped once its job exists and the group it leads is still
	// there for later stages to join.
	l.table.Txn(func(tx *jobs.Tx) {
		for i, st := range p.Stages {
			pid, err := l.start(st, i, pipes, leader)
			if err != nil {
				if errors.Is(err, ErrStartProcess) {
					fatalErr = err
					return
				}

				fmt.Fprintln(l.out, err.Error()) //nolint:errcheck

				continue
			}

			if leader == 0 {
				leader = pid
				tracked = tx.Add(pid, state, cmdline)
			} else if tracked {
				tx.AddMember(leader, pid)
			}

			logger.Debug("stage started", "stage", i, "pid", pid, "pgid", leader)

			started = append(started, pid)
		}
	})

	// Children hold their own copies now; the parent's ends must go or readers never see EOF.
	if cerr := errors.Join(closePipes(pipes), p.Close()); cerr != nil {
		logger.Debug("closing parent descriptors", "error", cerr)
	}

	if leader == 0 {
		if fatalErr != nil {
			return fatalErr
		}

		return ErrNothingStarted
	}

	if !tracked {
		logger.Warn("pipeline is running unmanaged", "pid", leader)
		return fatalErr
	}

	if p.Background {
		fmt.Fprintf(l.out, "[%d] (%d) %s\n", l.table.JobIDForPID(leader), leader, cmdline) //nolint:errcheck
		return fatalErr
	}

	for _, pid := range started {
		if err := l.table.WaitForeground(ctx, pid); err != nil {
			return errors.Join(fatalErr, err)
		}
	}

	return fatalErr
}

// start forks stage i. Descriptors created by os.Pipe and os.Open are close-on-exec,
// so the child keeps only the three it is handed.
func (l *Launcher) start(st *pipeline.Stage, i int, pipes []pipeEnds, pgid int) (int, error) {
	path, err := LookPath(st.Args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: Command not found", st.Args[0])
	}

	stdin, stdout := l.stdin, l.stdout

	switch {
	case st.Stdin != nil:
		stdin = st.Stdin
	case i > 0:
		stdin = pipes[i-1].r
	}

	switch {
	case st.Stdout != nil:
		stdout = st.Stdout
	case i < len(pipes):
		stdout = pipes[i].w
	}

	pid, err := ForkExec(path, st.Args, &syscall.ProcAttr{
		Env:   l.env,
		Files: []uintptr{stdin.Fd(), stdout.Fd(), l.stderr.Fd()},
		Sys: &syscall.SysProcAttr{
			Setpgid: true,
			Pgid:    pgid,
		},
	})
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) {
			return 0, fmt.Errorf("%w: %w", ErrStartProcess, err)
		}

		return 0, fmt.Errorf("%s: %w", st.Args[0], err)
	}

	return pid, nil
}

func openPipes(n int) ([]pipeEnds, error) {
	pipes := make([]pipeEnds, 0, n)

	for range n {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %w", ErrCreatePipe, err), closePipes(pipes))
		}

		pipes = append(pipes, pipeEnds{r: r, w: w})
	}

	return pipes, nil
}

func closePipes(pipes []pipeEnds) error {
	var err error

	for _, p := range pipes {
		for _, f := range []*os.File{p.r, p.w} {
			if cerr := f.Close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
		}
	}

	return err
}
