// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package builtin implements the commands the shell runs itself: quit, jobs, bg and fg.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"golang.org/x/sys/unix"
)

// Builtin command names.
const (
	Quit = "quit"
	Jobs = "jobs"
	Bg   = "bg"
	Fg   = "fg"
)

var (
	// ErrMissingArgument is returned when bg or fg is given no target.
	ErrMissingArgument = errors.New("command requires PID or %jobid argument")
	// ErrNoSuchJob is returned when a %jobid target matches no live job.
	ErrNoSuchJob = errors.New("no such job")
	// ErrNoSuchProcess is returned when a PID target matches no live job.
	ErrNoSuchProcess = errors.New("process was not encountered")
	// ErrBadTarget is returned when a target is neither digits nor %digits.
	ErrBadTarget = errors.New("argument must be a PID or %jobid")
	// ErrContinue is returned when the continue signal cannot be delivered.
	ErrContinue = errors.New("failed to continue job")
)

// Exit terminates the shell for quit.
var Exit = os.Exit

// Kill delivers a signal; a negative pid addresses a process group.
var Kill = unix.Kill

// Dispatcher runs builtins against a job table.
type Dispatcher struct {
	table *jobs.Table
	out   io.Writer
}

// New creates a Dispatcher that writes listings, acknowledgments and errors to out.
func New(table *jobs.Table, out io.Writer) *Dispatcher {
	return &Dispatcher{table: table, out: out}
}

// IsBuiltin reports whether name is handled by the dispatcher.
func IsBuiltin(name string) bool {
	switch name {
	case Quit, Jobs, Bg, Fg:
		return true
	default:
		return false
	}
}

// Dispatch runs argv if it names a builtin and reports whether it did.
// User errors are written to the output and never returned; the returned error is
// reserved for failures of the shell itself.
func (d *Dispatcher) Dispatch(ctx context.Context, argv []string) (bool, error) {
	if len(argv) == 0 || !IsBuiltin(argv[0]) {
		return false, nil
	}

	switch argv[0] {
	case Quit:
		Exit(0)
	case Jobs:
		return true, d.table.List(d.out)
	case Bg, Fg:
		err := d.bgfg(ctx, argv)

		var userErr *targetError
		if errors.As(err, &userErr) {
			fmt.Fprintln(d.out, userErr.Error()) //nolint:errcheck
			return true, nil
		}

		return true, err
	}

	return true, nil
}

// targetError wraps the user facing bg/fg errors.
type targetError struct {
	err error
}

func (e *targetError) Error() string { return e.err.Error() }
func (e *targetError) Unwrap() error { return e.err }

type targetKind int

const (
	targetPID targetKind = iota
	targetJobID
)

// parseTarget reads "123" as a PID and "%4" as a job ID.
func parseTarget(name, arg string) (targetKind, int, error) {
	if rest, ok := strings.CutPrefix(arg, "%"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil || id < 0 {
			return 0, 0, fmt.Errorf("%s: %w", name, ErrBadTarget)
		}

		return targetJobID, id, nil
	}

	pid, err := strconv.Atoi(arg)
	if err != nil || pid < 0 {
		return 0, 0, fmt.Errorf("%s: %w", name, ErrBadTarget)
	}

	return targetPID, pid, nil
}

func (d *Dispatcher) bgfg(ctx context.Context, argv []string) error {
	name := argv[0]

	if len(argv) < 2 {
		return &targetError{fmt.Errorf("%s %w", name, ErrMissingArgument)}
	}

	kind, n, err := parseTarget(name, argv[1])
	if err != nil {
		return &targetError{err}
	}

	tr := jobs.ResumeBackground
	if name == Fg {
		tr = jobs.ResumeForeground
	}

	var job jobs.Job

	d.table.Txn(func(tx *jobs.Tx) {
		var ok bool

		if kind == targetJobID {
			job, ok = tx.FindByJobID(n)
			if !ok {
				err = &targetError{fmt.Errorf("%s: %w", argv[1], ErrNoSuchJob)}
				return
			}
		} else {
			job, ok = tx.FindByPID(n)
			if !ok {
				err = &targetError{fmt.Errorf("%s: %w", argv[1], ErrNoSuchProcess)}
				return
			}
		}

		if kerr := Kill(-job.PID, unix.SIGCONT); kerr != nil {
			err = fmt.Errorf("%w [%d] (%d): %w", ErrContinue, job.ID, job.PID, kerr)
			return
		}

		job, err = tx.Apply(job.PID, tr)
	})

	if err != nil {
		return err
	}

	ctxlog.Debug(ctx, "job resumed", "job", job.ID, "pid", job.PID, "state", job.State.String())

	if tr == jobs.ResumeBackground {
		fmt.Fprintf(d.out, "[%d] (%d) %s\n", job.ID, job.PID, job.Cmdline) //nolint:errcheck
		return nil
	}

	return d.table.WaitForeground(ctx, job.PID)
}
