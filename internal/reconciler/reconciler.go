// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package reconciler keeps the job table in step with what the operating system reports
// about the shell's children, and forwards keyboard signals to the foreground job.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/matt-FFFFFF/tsh/internal/jobs"
	"github.com/matt-FFFFFF/tsh/internal/signalbroker"
	"golang.org/x/sys/unix"
)

var (
	// ErrForwardStop is returned when the stop signal cannot reach the foreground job.
	ErrForwardStop = errors.New("failed to forward stop signal to the foreground job")
	// ErrQuit is returned after SIGQUIT asks the shell to terminate.
	ErrQuit = errors.New("terminated by SIGQUIT")
)

// WaitFunc has the signature of unix.Wait4.
type WaitFunc func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

// KillFunc has the signature of unix.Kill.
type KillFunc func(pid int, sig unix.Signal) error

// Reconciler applies child status changes and keyboard signals to a job table.
type Reconciler struct {
	table *jobs.Table
	out   io.Writer
	wait  WaitFunc
	kill  KillFunc
}

// Option configures a Reconciler.
type Option func(r *Reconciler)

// WithWait replaces the status source, unix.Wait4 by default.
func WithWait(fn WaitFunc) Option {
	return func(r *Reconciler) {
		r.wait = fn
	}
}

// WithKill replaces the signal sender, unix.Kill by default.
func WithKill(fn KillFunc) Option {
	return func(r *Reconciler) {
		r.kill = fn
	}
}

// New creates a Reconciler for table that writes notices to out.
func New(table *jobs.Table, out io.Writer, opts ...Option) *Reconciler {
	r := &Reconciler{
		table: table,
		out:   out,
		wait:  unix.Wait4,
		kill:  unix.Kill,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run handles signals from sigCh until ctx is done or sigCh is closed.
// It returns ErrQuit after SIGQUIT and ErrForwardStop when a stop cannot be delivered;
// both are fatal to the shell.
func (r *Reconciler) Run(ctx context.Context, sigCh <-chan os.Signal) error {
	// Children may have changed state before the subscription existed.
	r.Reap(ctx)

	return signalbroker.Watch(ctx, sigCh, r.Handle)
}

// Handle applies a single signal.
func (r *Reconciler) Handle(ctx context.Context, sig os.Signal) error {
	switch signalbroker.KindOf(sig) {
	case signalbroker.KindChildStatus:
		r.Reap(ctx)
	case signalbroker.KindInterrupt:
		if err := r.forward(ctx, unix.SIGINT); err != nil {
			ctxlog.Debug(ctx, "interrupt not delivered", "error", err)
		}
	case signalbroker.KindStop:
		if err := r.forward(ctx, unix.SIGTSTP); err != nil {
			return fmt.Errorf("%w: %w", ErrForwardStop, err)
		}
	case signalbroker.KindQuit:
		fmt.Fprintln(r.out, "Terminating after receipt of SIGQUIT signal") //nolint:errcheck
		return ErrQuit
	default:
		ctxlog.Debug(ctx, "ignoring signal", "signal", sig.String())
	}

	return nil
}

// forward sends sig to the foreground job's process group, if there is one.
// The table is held so the job cannot be reaped between lookup and delivery.
func (r *Reconciler) forward(ctx context.Context, sig unix.Signal) (err error) {
	r.table.Txn(func(tx *jobs.Tx) {
		pid := tx.ForegroundPID()
		if pid == 0 {
			return
		}

		ctxlog.Debug(ctx, "forwarding signal", "signal", sig.String(), "pgid", pid)
		err = r.kill(-pid, sig)
	})

	return err
}

// Reap collects every pending child status without blocking on running children and
// applies each one to the table. It returns how many statuses were collected.
func (r *Reconciler) Reap(ctx context.Context) int {
	n := 0

	for {
		var reaped bool

		r.table.Txn(func(tx *jobs.Tx) {
			var status unix.WaitStatus

			pid, err := r.wait(-1, &status, unix.WNOHANG|unix.WUNTRACED, nil)
			if err != nil || pid <= 0 {
				if err != nil && !errors.Is(err, unix.ECHILD) {
					ctxlog.Debug(ctx, "wait failed", "error", err)
				}

				return
			}

			reaped = true

			r.apply(ctx, tx, pid, status)
		})

		if !reaped {
			return n
		}

		n++
	}
}

// apply moves the job owning pid according to status. Statuses for processes that
// belong to no job are ignored.
func (r *Reconciler) apply(ctx context.Context, tx *jobs.Tx, pid int, status unix.WaitStatus) {
	logger := ctxlog.Logger(ctx).With("pid", pid)

	job, ok := tx.FindByMember(pid)
	if !ok {
		logger.Debug("reaped process without a job", "status", fmt.Sprintf("%#x", uint32(status)))
		return
	}

	switch {
	case status.Stopped():
		prev := job.State

		if _, err := tx.Apply(job.PID, jobs.Stop); err != nil {
			logger.Debug("stop transition rejected", "error", err)
			return
		}

		if prev != jobs.Stopped {
			fmt.Fprintf(r.out, "Job [%d] (%d) stopped by signal %d\n", job.ID, job.PID, int(status.StopSignal())) //nolint:errcheck
		}

	case status.Signaled(), status.Exited():
		if status.Signaled() && pid == job.PID {
			fmt.Fprintf(r.out, "Job [%d] (%d) terminated by signal %d\n", job.ID, pid, int(status.Signal())) //nolint:errcheck
		}

		_, remaining, _ := tx.Detach(pid)
		if remaining == 0 {
			tx.Remove(job.PID)
			logger.Debug("job finished", "job", job.ID, "exitCode", status.ExitStatus())
		}
	}
}
